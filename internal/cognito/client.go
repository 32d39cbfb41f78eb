// Package cognito adapts the AWS Cognito user pool API to auth.IdentityProvider.
package cognito

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	cip "github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider"
	"github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider/types"
	"github.com/aws/smithy-go"

	"todoapp.io/internal/auth"
	"todoapp.io/internal/obs"
)

// API is the subset of the Cognito client used here.
type API interface {
	InitiateAuth(ctx context.Context, in *cip.InitiateAuthInput, opts ...func(*cip.Options)) (*cip.InitiateAuthOutput, error)
	AdminCreateUser(ctx context.Context, in *cip.AdminCreateUserInput, opts ...func(*cip.Options)) (*cip.AdminCreateUserOutput, error)
	AdminSetUserPassword(ctx context.Context, in *cip.AdminSetUserPasswordInput, opts ...func(*cip.Options)) (*cip.AdminSetUserPasswordOutput, error)
	AdminDeleteUser(ctx context.Context, in *cip.AdminDeleteUserInput, opts ...func(*cip.Options)) (*cip.AdminDeleteUserOutput, error)
}

// Client implements auth.IdentityProvider on top of Cognito.
type Client struct {
	api API
}

var _ auth.IdentityProvider = (*Client)(nil)

// New wraps an existing API implementation.
func New(api API) *Client {
	return &Client{api: api}
}

// NewFromConfig builds a client from loaded AWS configuration.
func NewFromConfig(cfg aws.Config, optFns ...func(*cip.Options)) *Client {
	return New(cip.NewFromConfig(cfg, optFns...))
}

func (c *Client) AuthenticateWithPassword(ctx context.Context, clientID, username, password string) (*auth.TokenResult, error) {
	return c.initiate(ctx, clientID, types.AuthFlowTypeUserPasswordAuth, map[string]string{
		"USERNAME": username,
		"PASSWORD": password,
	})
}

func (c *Client) AuthenticateWithSecretHash(ctx context.Context, clientID, username, password, secretHash string) (*auth.TokenResult, error) {
	return c.initiate(ctx, clientID, types.AuthFlowTypeUserPasswordAuth, map[string]string{
		"USERNAME":    username,
		"PASSWORD":    password,
		"SECRET_HASH": secretHash,
	})
}

func (c *Client) RefreshToken(ctx context.Context, clientID, refreshToken, secretHash string) (*auth.TokenResult, error) {
	params := map[string]string{"REFRESH_TOKEN": refreshToken}
	if secretHash != "" {
		params["SECRET_HASH"] = secretHash
	}
	return c.initiate(ctx, clientID, types.AuthFlowTypeRefreshTokenAuth, params)
}

func (c *Client) initiate(ctx context.Context, clientID string, flow types.AuthFlowType, params map[string]string) (*auth.TokenResult, error) {
	out, err := c.api.InitiateAuth(ctx, &cip.InitiateAuthInput{
		AuthFlow:       flow,
		ClientId:       aws.String(clientID),
		AuthParameters: params,
	})
	if err != nil {
		if isRejection(err) {
			obs.Logger().Debug().Str("flow", string(flow)).Str("code", errorCode(err)).Msg("cognito rejected credentials")
			return nil, nil
		}
		return nil, fmt.Errorf("cognito initiate auth: %w", err)
	}
	if out == nil || out.AuthenticationResult == nil {
		// A pending challenge is not a session.
		if out != nil {
			obs.Logger().Debug().Str("flow", string(flow)).Str("challenge", string(out.ChallengeName)).Msg("cognito returned a challenge")
		}
		return nil, nil
	}
	res := out.AuthenticationResult
	return &auth.TokenResult{
		AccessToken:  aws.ToString(res.AccessToken),
		IDToken:      aws.ToString(res.IdToken),
		RefreshToken: aws.ToString(res.RefreshToken),
		ExpiresIn:    res.ExpiresIn,
	}, nil
}

func (c *Client) CreateAccount(ctx context.Context, poolID, username string, attributes map[string]string, suppressNotification bool) error {
	names := make([]string, 0, len(attributes))
	for name := range attributes {
		names = append(names, name)
	}
	sort.Strings(names)
	attrs := make([]types.AttributeType, 0, len(names))
	for _, name := range names {
		attrs = append(attrs, types.AttributeType{Name: aws.String(name), Value: aws.String(attributes[name])})
	}

	in := &cip.AdminCreateUserInput{
		UserPoolId:     aws.String(poolID),
		Username:       aws.String(username),
		UserAttributes: attrs,
	}
	if suppressNotification {
		in.MessageAction = types.MessageActionTypeSuppress
	}
	if _, err := c.api.AdminCreateUser(ctx, in); err != nil {
		var exists *types.UsernameExistsException
		if errors.As(err, &exists) {
			return fmt.Errorf("cognito create user %s: %w", username, auth.ErrAccountExists)
		}
		return fmt.Errorf("cognito create user %s: %w", username, err)
	}
	return nil
}

func (c *Client) SetPermanentPassword(ctx context.Context, poolID, username, password string) error {
	_, err := c.api.AdminSetUserPassword(ctx, &cip.AdminSetUserPasswordInput{
		UserPoolId: aws.String(poolID),
		Username:   aws.String(username),
		Password:   aws.String(password),
		Permanent:  true,
	})
	if err != nil {
		return fmt.Errorf("cognito set password %s: %w", username, err)
	}
	return nil
}

func (c *Client) DeleteAccount(ctx context.Context, poolID, username string) error {
	_, err := c.api.AdminDeleteUser(ctx, &cip.AdminDeleteUserInput{
		UserPoolId: aws.String(poolID),
		Username:   aws.String(username),
	})
	if err != nil {
		return fmt.Errorf("cognito delete user %s: %w", username, err)
	}
	return nil
}

// isRejection reports provider answers that mean "these credentials do not open a session".
func isRejection(err error) bool {
	var (
		notAuthorized *types.NotAuthorizedException
		notFound      *types.UserNotFoundException
		notConfirmed  *types.UserNotConfirmedException
		resetRequired *types.PasswordResetRequiredException
	)
	return errors.As(err, &notAuthorized) ||
		errors.As(err, &notFound) ||
		errors.As(err, &notConfirmed) ||
		errors.As(err, &resetRequired)
}

func errorCode(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}
