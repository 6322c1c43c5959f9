package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/metal-toolbox/romxfer/internal/configuration"
	"github.com/metal-toolbox/romxfer/internal/model"
)

// maxBodyBytes bounds request bodies, payloads are a handful of short strings.
const maxBodyBytes = 1 << 20

type checkFilePayload struct {
	FileName string `json:"fileName"`
}

// hostConfigPayload uses pointers so an explicit "" password can be told
// apart from an absent one.
type hostConfigPayload struct {
	HostIP         *string `json:"hostIp"`
	Port           *int    `json:"port"`
	Username       *string `json:"username"`
	Password       *string `json:"password"`
	RemoteBasePath *string `json:"remoteBasePath"`
	StrictPassword bool    `json:"strictPassword"`
}

type transferPayload struct {
	LocalFilePath string             `json:"localFilePath"`
	RomURL        string             `json:"romUrl"`
	RomName       string             `json:"romName"`
	Platform      string             `json:"platform"`
	HostConfig    *hostConfigPayload `json:"hostConfig"`
}

// decode reads a JSON object from the request body into v.
func decode(r *http.Request, v any) error {
	if r.ContentLength < 0 {
		return model.NewError(model.ErrBadRequest, "Content-Length required")
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return model.WrapError(model.ErrBadRequest, err, "Failed to read request body")
	}

	if len(body) > maxBodyBytes {
		return model.NewError(model.ErrBadRequest, "Request body too large")
	}

	if err := json.Unmarshal(body, v); err != nil {
		return model.WrapError(model.ErrBadRequest, err, "Invalid JSON")
	}

	return nil
}

// hostConfig applies defaults to the payload.
func (p *hostConfigPayload) hostConfig(defaults *configuration.HostDefaults) model.HostConfig {
	host := model.HostConfig{
		Port:           defaults.Port,
		Username:       defaults.Username,
		Password:       defaults.Password,
		RemoteBasePath: defaults.RemoteBasePath,
	}

	if p == nil {
		return host
	}

	host.StrictPassword = p.StrictPassword

	if p.HostIP != nil {
		host.HostIP = strings.TrimSpace(*p.HostIP)
	}

	if p.Port != nil && *p.Port != 0 {
		host.Port = *p.Port
	}

	if p.Username != nil && *p.Username != "" {
		host.Username = *p.Username
	}

	if p.Password != nil {
		host.Password = *p.Password
	}

	if p.RemoteBasePath != nil && *p.RemoteBasePath != "" {
		host.RemoteBasePath = *p.RemoteBasePath
	}

	return host
}

// transferRequest validates the payload and builds the request handed to
// acquisition and delivery. Exactly one of the local path or URL is used,
// depending on remote.
func (p *transferPayload) transferRequest(defaults *configuration.HostDefaults, remote bool) (*model.TransferRequest, error) {
	req := &model.TransferRequest{
		RomName:  strings.TrimSpace(p.RomName),
		Platform: p.Platform,
		Host:     p.HostConfig.hostConfig(defaults),
	}

	if remote {
		req.Source.RemoteURL = strings.TrimSpace(p.RomURL)
	} else {
		req.Source.LocalPath = p.LocalFilePath
	}

	if err := req.Validate(); err != nil {
		return nil, err
	}

	return req, nil
}
