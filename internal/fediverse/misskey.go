package fediverse

import (
	"context"
	"fmt"

	"github.com/pbzweihander/contcont/internal/store"
)

type misskeyAppCreateReq struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Permission  []string `json:"permission"`
	CallbackURL string   `json:"callbackUrl"`
}

type misskeyAppCreateResp struct {
	ID     string `json:"id"`
	Secret string `json:"secret"`
}

func (c *Client) registerMisskeyApp(ctx context.Context, hostname string) (store.Instance, error) {
	var resp misskeyAppCreateResp
	err := c.postJSON(ctx, c.instanceURL(hostname, "/api/app/create"), misskeyAppCreateReq{
		Name:        c.appName,
		Description: "contest controller",
		Permission:  []string{},
		CallbackURL: c.redirectURL,
	}, &resp)
	if err != nil {
		return store.Instance{}, fmt.Errorf("register app with %s: %w", hostname, err)
	}
	if resp.ID == "" || resp.Secret == "" {
		return store.Instance{}, fmt.Errorf("register app with %s: empty credentials", hostname)
	}
	return store.Instance{Hostname: hostname, ClientID: resp.ID, ClientSecret: resp.Secret}, nil
}

type misskeyDriver struct {
	c *Client
}

type misskeySessionGenerateReq struct {
	AppSecret string `json:"appSecret"`
}

type misskeySessionGenerateResp struct {
	URL string `json:"url"`
}

func (d *misskeyDriver) BeginAuth(ctx context.Context, inst store.Instance) (string, string, error) {
	var resp misskeySessionGenerateResp
	err := d.c.postJSON(ctx, d.c.instanceURL(inst.Hostname, "/api/auth/session/generate"), misskeySessionGenerateReq{
		AppSecret: inst.ClientSecret,
	}, &resp)
	if err != nil {
		return "", "", fmt.Errorf("generate session with %s: %w", inst.Hostname, err)
	}
	if resp.URL == "" {
		return "", "", fmt.Errorf("generate session with %s: empty login url", inst.Hostname)
	}
	return resp.URL, misskeyStatePrefix + inst.ClientID, nil
}

type misskeyUserkeyReq struct {
	AppSecret string `json:"appSecret"`
	Token     string `json:"token"`
}

type misskeyUserkeyResp struct {
	User struct {
		Username string `json:"username"`
	} `json:"user"`
}

func (d *misskeyDriver) CompleteAuth(ctx context.Context, inst store.Instance, cb Callback, loginState string) (string, error) {
	if cb.Token == "" {
		return "", fmt.Errorf("callback from %s: %w", inst.Hostname, ErrTokenMissing)
	}

	var resp misskeyUserkeyResp
	err := d.c.postJSON(ctx, d.c.instanceURL(inst.Hostname, "/api/auth/session/userkey"), misskeyUserkeyReq{
		AppSecret: inst.ClientSecret,
		Token:     cb.Token,
	}, &resp)
	if err != nil {
		return "", fmt.Errorf("exchange userkey with %s: %w", inst.Hostname, err)
	}
	if resp.User.Username == "" {
		return "", fmt.Errorf("exchange userkey with %s: empty username", inst.Hostname)
	}
	return resp.User.Username, nil
}
