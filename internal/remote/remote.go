// Package remote commits finished records to the remote record server over
// HTTP.
package remote

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/pavelanni/examlog/internal/model"
	"github.com/pavelanni/examlog/internal/wizard"
)

const recordsPath = "/records"

// Client is a wizard.Committer backed by the remote record API.
type Client struct {
	http *resty.Client
}

// Config holds the connection settings.
type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

type recordResponse struct {
	ID string `json:"id"`
}

type errorResponse struct {
	Message string            `json:"message"`
	Errors  map[string]string `json:"errors"`
}

// New creates a client. Requests are never retried; the user decides.
func New(cfg Config) *Client {
	c := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetHeader("Accept", "application/json").
		SetRetryCount(0)
	if cfg.Timeout > 0 {
		c.SetTimeout(cfg.Timeout)
	}
	if cfg.Token != "" {
		c.SetAuthToken(cfg.Token)
	}
	return &Client{http: c}
}

// Commit creates a record when remoteID is empty and replaces it otherwise.
// Failures are returned as *wizard.CommitError.
func (c *Client) Commit(ctx context.Context, form model.FormData, remoteID string) (wizard.CommitResult, error) {
	var (
		out     recordResponse
		errBody errorResponse
	)
	req := c.http.R().
		SetContext(ctx).
		SetBody(form).
		SetResult(&out).
		SetError(&errBody)

	var (
		resp *resty.Response
		err  error
	)
	if remoteID == "" {
		resp, err = req.Post(recordsPath)
	} else {
		resp, err = req.Put(recordsPath + "/" + url.PathEscape(remoteID))
	}
	if err != nil {
		return wizard.CommitResult{}, &wizard.CommitError{
			Kind:    wizard.FailureNetwork,
			Message: "record server unreachable",
			Err:     err,
		}
	}
	if resp.IsError() {
		return wizard.CommitResult{}, statusError(resp, errBody)
	}

	id := out.ID
	if id == "" {
		id = remoteID
	}
	if id == "" {
		return wizard.CommitResult{}, &wizard.CommitError{
			Kind:    wizard.FailureServer,
			Status:  resp.StatusCode(),
			Message: "record server returned no record id",
		}
	}
	return wizard.CommitResult{RemoteID: id, Created: remoteID == ""}, nil
}

func statusError(resp *resty.Response, body errorResponse) *wizard.CommitError {
	kind := wizard.FailureServer
	if resp.StatusCode() < http.StatusInternalServerError {
		kind = wizard.FailureValidation
	}
	msg := body.Message
	if msg == "" {
		msg = http.StatusText(resp.StatusCode())
	}
	return &wizard.CommitError{
		Kind:    kind,
		Status:  resp.StatusCode(),
		Message: msg,
		Fields:  body.Errors,
		Err:     fmt.Errorf("%s %s: %s", resp.Request.Method, resp.Request.URL, resp.Status()),
	}
}
