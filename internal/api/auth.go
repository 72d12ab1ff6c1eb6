package api

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/url"

	"github.com/AbdelrhmanGamal26/chatlink/internal/session"
	"github.com/AbdelrhmanGamal26/chatlink/pkg/password"
)

// Login authenticates and records the session. The refresh cookie set by the
// server lands in the client's cookie jar.
func (c *Client) Login(ctx context.Context, email, passwd string) (*session.User, error) {
	var data struct {
		User        User   `json:"user"`
		AccessToken string `json:"accessToken"`
	}
	body := map[string]string{"email": email, "password": passwd}
	if err := c.post(ctx, "/auth/login", body, &data); err != nil {
		return nil, err
	}

	user := session.User{
		ID:    data.User.ID,
		Name:  data.User.Name,
		Email: data.User.Email,
		Photo: data.User.Photo,
	}
	c.session.Login(user, data.AccessToken)
	return &user, nil
}

type SignupParams struct {
	Name            string
	Email           string
	Password        string
	ConfirmPassword string
	PhotoName       string
	Photo           []byte
}

// Signup submits the registration form as multipart, photo included when
// provided. Password strength is checked client-side before the request.
func (c *Client) Signup(ctx context.Context, params SignupParams) error {
	if err := password.Validate(params.Password); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if params.Password != params.ConfirmPassword {
		return fmt.Errorf("%w: passwords do not match", ErrInvalidInput)
	}

	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	fields := map[string]string{
		"name":            params.Name,
		"email":           params.Email,
		"password":        params.Password,
		"confirmPassword": params.ConfirmPassword,
	}
	for name, value := range fields {
		if err := form.WriteField(name, value); err != nil {
			return fmt.Errorf("building signup form: %w", err)
		}
	}
	if len(params.Photo) > 0 {
		part, err := form.CreateFormFile("photo", params.PhotoName)
		if err != nil {
			return fmt.Errorf("building signup form: %w", err)
		}
		if _, err := part.Write(params.Photo); err != nil {
			return fmt.Errorf("building signup form: %w", err)
		}
	}
	if err := form.Close(); err != nil {
		return fmt.Errorf("building signup form: %w", err)
	}

	return c.doRequest(ctx, "POST", "/auth/signup", nil, buf.Bytes(), form.FormDataContentType(), nil)
}

func (c *Client) ForgotPassword(ctx context.Context, email string) error {
	return c.post(ctx, "/auth/forgot-password", map[string]string{"email": email}, nil)
}

func (c *Client) VerifyResetToken(ctx context.Context, resetToken string) error {
	return c.get(ctx, "/auth/verify-reset-token", url.Values{"resetToken": {resetToken}}, nil)
}

func (c *Client) ResetPassword(ctx context.Context, resetToken, passwd, confirm string) error {
	body := map[string]string{"password": passwd, "confirmPassword": confirm}
	return c.patch(ctx, "/auth/reset-password", url.Values{"resetToken": {resetToken}}, body, nil)
}

func (c *Client) VerifyEmail(ctx context.Context, verificationToken string) error {
	return c.get(ctx, "/auth/verify-email", url.Values{"verificationToken": {verificationToken}}, nil)
}

func (c *Client) ResendVerificationToken(ctx context.Context, email string) error {
	return c.post(ctx, "/auth/resend-verification-token", map[string]string{"email": email}, nil)
}

// Logout invalidates the server session, then clears the local one.
func (c *Client) Logout(ctx context.Context) error {
	if err := c.post(ctx, "/users/logout", nil, nil); err != nil {
		return err
	}
	c.session.Logout()
	return nil
}

// DeleteAccount removes the account and clears the local session.
func (c *Client) DeleteAccount(ctx context.Context) error {
	if err := c.del(ctx, "/users/me", nil); err != nil {
		return err
	}
	c.session.Logout()
	return nil
}
