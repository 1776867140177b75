package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
)

func TestRateLimiterAllow(t *testing.T) {
	rl := NewRateLimiter(3, time.Minute)

	for i := 0; i < 3; i++ {
		if !rl.Allow("account:alice") {
			t.Fatalf("Request %d should be allowed", i+1)
		}
	}
	if rl.Allow("account:alice") {
		t.Error("Fourth request should be rejected")
	}

	// Limits are per client.
	if !rl.Allow("account:bob") {
		t.Error("Different client should be allowed")
	}
}

func TestRateLimiterWindowReset(t *testing.T) {
	rl := NewRateLimiter(1, 50*time.Millisecond)

	if !rl.Allow("account:alice") {
		t.Fatal("First request should be allowed")
	}
	if rl.Allow("account:alice") {
		t.Fatal("Second request in the window should be rejected")
	}

	time.Sleep(110 * time.Millisecond)

	if !rl.Allow("account:alice") {
		t.Error("Request in a fresh window should be allowed")
	}
}

// TestRateLimiterKeysByAccount: the X-Account header separates clients
// sharing one IP.
func TestRateLimiterKeysByAccount(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute)

	app := fiber.New()
	app.Use(rl.Middleware())
	app.Get("/ping", func(c *fiber.Ctx) error { return c.SendString("pong") })

	request := func(account string) int {
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		if account != "" {
			req.Header.Set("X-Account", account)
		}
		resp, err := app.Test(req)
		if err != nil {
			t.Fatalf("Request failed: %v", err)
		}
		return resp.StatusCode
	}

	if status := request("alice"); status != http.StatusOK {
		t.Errorf("Expected 200 for alice, got: %d", status)
	}
	if status := request("alice"); status != http.StatusTooManyRequests {
		t.Errorf("Expected 429 for alice over limit, got: %d", status)
	}
	if status := request("bob"); status != http.StatusOK {
		t.Errorf("Expected 200 for bob on the same IP, got: %d", status)
	}
}
