package auth_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/edumarques81/stellar-connect-streamer/internal/infra/auth"
	"github.com/edumarques81/stellar-connect-streamer/internal/infra/catalog"
)

// Two catalog calls rejected at the same time share a single refresh and are
// both retried with the new token.
func TestConcurrentUnauthorizedCallsShareOneRefresh(t *testing.T) {
	var refreshes int32
	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&refreshes, 1)
		time.Sleep(50 * time.Millisecond)
		json.NewEncoder(w).Encode(map[string]any{"access_token": "new", "expires_in": 3600})
	}))
	defer tokenServer.Close()

	var rejected sync.WaitGroup
	rejected.Add(2)
	var retried int32
	apiServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "Bearer old" {
			// Hold both first attempts until each has arrived.
			rejected.Done()
			rejected.Wait()
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		atomic.AddInt32(&retried, 1)
		fmt.Fprint(w, `{"limit":50,"offset":0,"totalNumberOfItems":0,"items":[]}`)
	}))
	defer apiServer.Close()

	provider, err := auth.NewProvider("", auth.WithTokenURL(tokenServer.URL))
	if err != nil {
		t.Fatalf("NewProvider failed: %v", err)
	}
	provider.Set(auth.Credentials{UserID: "42", AccessToken: "old", RefreshToken: "r1"})

	client := catalog.NewClient(provider,
		catalog.WithQueueBaseURL(apiServer.URL),
		catalog.WithHTTPClient(apiServer.Client()),
	)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = client.FetchQueueContent(context.Background(), fmt.Sprintf("q%d", i), 0, 50)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("call %d failed: %v", i, err)
		}
	}
	if got := atomic.LoadInt32(&refreshes); got != 1 {
		t.Errorf("expected exactly 1 refresh, got %d", got)
	}
	if got := atomic.LoadInt32(&retried); got != 2 {
		t.Errorf("expected 2 retried calls, got %d", got)
	}
}
