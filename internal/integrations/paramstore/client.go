package paramstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// ssmAPI is the minimal AWS SSM interface required by Client.
// *ssm.Client from aws-sdk-go-v2 satisfies this interface.
type ssmAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// TokenGetter is the interface consumed by the Slack and Zendesk clients.
// Depending on this interface rather than the concrete *Client keeps API
// clients testable without real AWS calls.
type TokenGetter interface {
	GetToken(ctx context.Context, name string) (string, error)
}

// Client reads API credentials from AWS SSM Parameter Store. Secrets are
// stored as SecureString parameters holding a small JSON document of the
// form {"token": "..."}.
type Client struct {
	api ssmAPI
}

// New creates a Client with the given SSM API implementation.
func New(api ssmAPI) (*Client, error) {
	if api == nil {
		return nil, errors.New("paramstore: api must not be nil")
	}
	return &Client{api: api}, nil
}

// GetToken fetches and decrypts the named parameter and extracts the token
// field from its JSON value.
func (c *Client) GetToken(ctx context.Context, name string) (string, error) {
	raw, err := c.getParameter(ctx, name)
	if err != nil {
		return "", err
	}

	var secret struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal([]byte(raw), &secret); err != nil {
		return "", fmt.Errorf("paramstore: decode parameter %q: %w", name, err)
	}
	if secret.Token == "" {
		return "", fmt.Errorf("paramstore: parameter %q has no token field", name)
	}
	return secret.Token, nil
}

func (c *Client) getParameter(ctx context.Context, name string) (string, error) {
	if c.api == nil {
		return "", errors.New("paramstore: client not initialized")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("paramstore: name is required")
	}

	withDecryption := true
	out, err := c.api.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           &name,
		WithDecryption: &withDecryption,
	})
	if err != nil {
		return "", fmt.Errorf("paramstore: get parameter %q: %w", name, err)
	}
	if out == nil || out.Parameter == nil || out.Parameter.Value == nil {
		return "", errors.New("paramstore: parameter missing value")
	}
	return *out.Parameter.Value, nil
}
