package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"

	"github.com/ibeckermayer/kolwatch/internal/browser"
)

const (
	loginURL = "https://x.com/i/flow/login"

	usernameInput  = `input[autocomplete="username"]`
	passwordInput  = `input[name="password"]`
	challengeInput = `input[data-testid="ocfEnterTextTextInput"]`
)

// BrowserLogin logs in through a real browser. With a username and password
// the form is filled automatically, answering the email challenge when X asks
// for it. Without them a visible window is opened for the user to log in.
type BrowserLogin struct {
	Username string
	Password string
	Email    string
	Headless bool
	Timeout  time.Duration
}

func (b *BrowserLogin) Login(ctx context.Context) ([]*network.Cookie, error) {
	timeout := b.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	scripted := b.Username != "" && b.Password != ""
	browserCtx, closeBrowser := browser.NewContext(ctx, b.Headless && scripted)
	defer closeBrowser()

	if err := chromedp.Run(browserCtx, chromedp.Navigate(loginURL)); err != nil {
		return nil, fmt.Errorf("failed to navigate to login page: %w", err)
	}

	if scripted {
		if err := b.fillForm(browserCtx); err != nil {
			return nil, fmt.Errorf("login form: %w", err)
		}
	}

	if err := waitForLogin(browserCtx); err != nil {
		return nil, fmt.Errorf("login failed: %w", err)
	}

	cookies, err := extractCookies(browserCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to extract cookies: %w", err)
	}
	return cookies, nil
}

func (b *BrowserLogin) fillForm(ctx context.Context) error {
	if err := chromedp.Run(ctx,
		chromedp.WaitVisible(usernameInput, chromedp.ByQuery),
		chromedp.SendKeys(usernameInput, b.Username+kb.Enter, chromedp.ByQuery),
	); err != nil {
		return fmt.Errorf("username step: %w", err)
	}

	// X may interpose an "enter your email or phone" step before the password.
	for {
		step, err := nextStep(ctx)
		if err != nil {
			return err
		}
		switch step {
		case "challenge":
			if b.Email == "" {
				return fmt.Errorf("x asked for the account email but none is configured")
			}
			if err := chromedp.Run(ctx,
				chromedp.SendKeys(challengeInput, b.Email+kb.Enter, chromedp.ByQuery),
				chromedp.WaitNotPresent(challengeInput, chromedp.ByQuery),
			); err != nil {
				return fmt.Errorf("email challenge: %w", err)
			}
		case "password":
			return chromedp.Run(ctx,
				chromedp.SendKeys(passwordInput, b.Password+kb.Enter, chromedp.ByQuery),
			)
		}
	}
}

// nextStep polls the login flow until the password or challenge input shows.
func nextStep(ctx context.Context) (string, error) {
	probe := fmt.Sprintf(`document.querySelector(%q) ? "password" : (document.querySelector(%q) ? "challenge" : "")`,
		passwordInput, challengeInput)

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		var step string
		if err := chromedp.Run(ctx, chromedp.Evaluate(probe, &step)); err == nil && step != "" {
			return step, nil
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
}

// waitForLogin polls until the browser lands on the home timeline with an
// auth_token cookie set.
func waitForLogin(ctx context.Context) error {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			var url string
			if err := chromedp.Run(ctx, chromedp.Location(&url)); err != nil {
				continue
			}
			if url != "https://x.com/home" && url != "https://twitter.com/home" {
				continue
			}
			cookies, err := extractCookies(ctx)
			if err != nil {
				continue
			}
			for _, c := range cookies {
				if c.Name == "auth_token" && c.Value != "" {
					return nil
				}
			}
		}
	}
}

// extractCookies gets all cookies from the browser
func extractCookies(ctx context.Context) ([]*network.Cookie, error) {
	var cookies []*network.Cookie

	err := chromedp.Run(ctx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			cookies, err = storage.GetCookies().Do(ctx)
			return err
		}),
	)

	return cookies, err
}
