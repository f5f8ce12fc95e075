package entropy

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNilClientFallsBack(t *testing.T) {
	var c *Client
	if c.Enabled() {
		t.Fatal("nil client enabled")
	}
	if NewClient("") != nil {
		t.Error("empty key gave a client")
	}
	if c.Seed(context.Background()) <= 0 {
		t.Error("fallback seed not positive")
	}
}

func TestSeedFromAPI(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Method string         `json:"method"`
			Params map[string]any `json:"params"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		if req.Method != "generateIntegers" || req.Params["apiKey"] != "k" {
			t.Errorf("request = %+v", req)
		}
		w.Write([]byte(`{"jsonrpc":"2.0","result":{"random":{"data":[3,5]}},"id":1}`))
	}))
	defer srv.Close()

	c := NewClient("k")
	c.Endpoint = srv.URL
	if got, want := c.Seed(context.Background()), int64(3<<31|5); got != want {
		t.Errorf("seed = %d, want %d", got, want)
	}
}

func TestSeedAPIError(t *testing.T) {
	tests := []struct {
		name string
		code int
		body string
	}{
		{"rpc error", http.StatusOK, `{"error":{"message":"quota"}}`},
		{"short data", http.StatusOK, `{"result":{"random":{"data":[1]}}}`},
		{"bad status", http.StatusBadGateway, `{}`},
		{"garbage", http.StatusOK, `nope`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.code)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := NewClient("k")
			c.Endpoint = srv.URL
			if _, err := c.fetch(context.Background()); err == nil {
				t.Error("fetch succeeded")
			}
			if c.Seed(context.Background()) <= 0 {
				t.Error("fallback seed not positive")
			}
		})
	}
}
