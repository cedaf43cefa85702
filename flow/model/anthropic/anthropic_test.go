package anthropic

import (
	"errors"
	"testing"

	"github.com/dshills/storyflow-go/flow/model"
)

func TestNewClient(t *testing.T) {
	if _, err := NewClient("", ""); err == nil {
		t.Error("empty API key accepted")
	}

	c, err := NewClient("sk-ant-test", "")
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	if c.model != DefaultModel {
		t.Errorf("model = %q, want default", c.model)
	}
}

func TestMapError(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		code      string
		retryable bool
	}{
		{"overloaded", errors.New("529 overloaded_error"), "rate_limited", true},
		{"rate limit", errors.New("rate limit reached"), "rate_limited", true},
		{"bad key", errors.New("403 forbidden"), "invalid_api_key", false},
		{"server error", errors.New("500 internal error"), "server_error", true},
		{"network", errors.New("connection reset by peer"), "network_error", true},
		{"unknown", errors.New("odd failure"), "api_error", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var me *model.Error
			if !errors.As(mapError(tc.err), &me) {
				t.Fatalf("mapError(%v) is not a model.Error", tc.err)
			}
			if me.Provider != "anthropic" || me.Code != tc.code || me.Retryable != tc.retryable {
				t.Errorf("mapped = %+v", me)
			}
		})
	}
}
