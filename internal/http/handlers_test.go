package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/Cypherspark/mailing/internal/cache"
	"github.com/Cypherspark/mailing/internal/core"
	"github.com/Cypherspark/mailing/internal/db"
	"github.com/Cypherspark/mailing/internal/dispatch"
	httpapi "github.com/Cypherspark/mailing/internal/http"
	"github.com/Cypherspark/mailing/internal/lock"
	"github.com/Cypherspark/mailing/internal/provider"
	"github.com/Cypherspark/mailing/internal/service"
)

type api struct {
	h     http.Handler
	store *core.Store
	mr    *miniredis.Miniredis
}

func startAPI(t *testing.T) api {
	t.Helper()
	database := db.StartTestPostgres(t)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	log := logrus.New()
	log.SetOutput(io.Discard)

	store := core.NewStore(database)
	d := dispatch.New(store, provider.NewConsole(log), lock.NewRedisLocker(rdb, time.Minute), log, dispatch.Options{From: "noreply@example.com", QPS: 1000, Burst: 100})
	svc := service.New(store, cache.NewRedis(rdb, "test:"), d, log)
	srv := httpapi.NewServer(svc, database, log)
	srv.Redis = rdb
	return api{h: srv.Router(), store: store, mr: mr}
}

func (a api) do(t *testing.T, method, path string, user int64, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != 0 {
		req.Header.Set("X-User-ID", strconv.FormatInt(user, 10))
	}
	w := httptest.NewRecorder()
	a.h.ServeHTTP(w, req)
	return w
}

func decodeID(t *testing.T, w *httptest.ResponseRecorder) int64 {
	t.Helper()
	var v struct {
		ID int64 `json:"id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	require.NotZero(t, v.ID)
	return v.ID
}

func TestCampaignLifecycle_DispatchAndStats(t *testing.T) {
	a := startAPI(t)

	w := a.do(t, "POST", "/users", 0, map[string]string{"email": "Owner@Example.com"})
	require.Equal(t, http.StatusCreated, w.Code)
	uid := decodeID(t, w)

	var rids []int64
	for i := 0; i < 2; i++ {
		w = a.do(t, "POST", "/recipients", uid, map[string]any{
			"email":     fmt.Sprintf("r%d@example.com", i),
			"full_name": fmt.Sprintf("Recipient %d", i),
		})
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
		rids = append(rids, decodeID(t, w))
	}

	w = a.do(t, "POST", "/messages", uid, map[string]string{"subject": "Hi", "body": "News"})
	require.Equal(t, http.StatusCreated, w.Code)
	mid := decodeID(t, w)

	now := time.Now().UTC()
	w = a.do(t, "POST", "/campaigns", uid, map[string]any{
		"start_time":    now.Add(time.Minute),
		"end_time":      now.Add(2 * time.Hour),
		"message_id":    mid,
		"recipient_ids": rids,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	cid := decodeID(t, w)

	// not yet in window
	w = a.do(t, "POST", fmt.Sprintf("/campaigns/%d/dispatch", cid), uid, nil)
	require.Equal(t, http.StatusConflict, w.Code)
	require.Contains(t, w.Body.String(), "out_of_window")

	// warm the home cache, then open the window directly in the store
	w = a.do(t, "GET", "/home", uid, nil)
	require.Equal(t, http.StatusOK, w.Code)

	_, err := a.store.DB.Pool.Exec(context.Background(),
		`UPDATE campaigns SET start_time = $2 WHERE id = $1`, cid, now.Add(-time.Minute))
	require.NoError(t, err)

	w = a.do(t, "POST", fmt.Sprintf("/campaigns/%d/dispatch", cid), uid, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var res dispatch.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	require.Equal(t, dispatch.Result{Success: 2, Fail: 0, Total: 2}, res)

	w = a.do(t, "GET", fmt.Sprintf("/campaigns/%d", cid), uid, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var c core.Campaign
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &c))
	require.Equal(t, core.StatusCompleted, c.Status)

	w = a.do(t, "GET", fmt.Sprintf("/campaigns/%d/attempts?limit=10", cid), uid, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var page struct {
		Items []core.DeliveryAttempt `json:"items"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	require.Len(t, page.Items, 2)
	for _, it := range page.Items {
		require.Equal(t, core.AttemptSuccess, it.Status)
	}

	// home stats reflect the run, so the cached entry was dropped
	w = a.do(t, "GET", "/home", uid, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var st core.HomeStats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
	require.Equal(t, 1, st.CampaignCount)
	require.Equal(t, 2, st.SuccessfulMailingCount)
	require.Equal(t, 0, st.UnsuccessfulMailingCount)
	require.Equal(t, 2, st.MessagesCount)
}

func TestAccessControl(t *testing.T) {
	a := startAPI(t)
	ctx := context.Background()

	alice, err := a.store.CreateUser(ctx, "alice@example.com", false)
	require.NoError(t, err)
	bob, err := a.store.CreateUser(ctx, "bob@example.com", false)
	require.NoError(t, err)
	boss, err := a.store.CreateUser(ctx, "boss@example.com", true)
	require.NoError(t, err)

	w := a.do(t, "GET", "/home", 0, nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Contains(t, w.Body.String(), `"error":"unauthenticated"`)
	w = a.do(t, "GET", "/home", 999999, nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = a.do(t, "POST", "/recipients", alice.ID, map[string]string{"email": "x@example.com", "full_name": "X"})
	require.Equal(t, http.StatusCreated, w.Code)
	rid := decodeID(t, w)

	w = a.do(t, "GET", fmt.Sprintf("/recipients/%d", rid), bob.ID, nil)
	require.Equal(t, http.StatusForbidden, w.Code)

	w = a.do(t, "GET", fmt.Sprintf("/recipients/%d", rid), boss.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = a.do(t, "GET", "/manager/users", alice.ID, nil)
	require.Equal(t, http.StatusForbidden, w.Code)

	w = a.do(t, "GET", "/manager/users", boss.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var ov service.UsersOverview
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ov))
	require.Equal(t, 2, ov.Stats.Total)
	require.Len(t, ov.Users, 2)

	w = a.do(t, "POST", fmt.Sprintf("/manager/users/%d/toggle-block", alice.ID), boss.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = a.do(t, "GET", "/home", alice.ID, nil)
	require.Equal(t, http.StatusForbidden, w.Code)
	require.Contains(t, w.Body.String(), "user_blocked")

	w = a.do(t, "POST", fmt.Sprintf("/manager/users/%d/toggle-block", boss.ID), boss.ID, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestValidationErrors(t *testing.T) {
	a := startAPI(t)
	u, err := a.store.CreateUser(context.Background(), "v@example.com", false)
	require.NoError(t, err)

	w := a.do(t, "POST", "/recipients", u.ID, map[string]string{"email": "not-an-email", "full_name": "N"})
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = a.do(t, "GET", "/campaigns/abc", u.ID, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = a.do(t, "GET", "/campaigns/424242", u.ID, nil)
	require.Equal(t, http.StatusNotFound, w.Code)

	now := time.Now().UTC()
	w = a.do(t, "POST", "/campaigns", u.ID, map[string]any{
		"start_time": now.Add(2 * time.Hour),
		"end_time":   now.Add(time.Hour),
		"message_id": 1,
	})
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealthEndpoints(t *testing.T) {
	a := startAPI(t)
	for _, p := range []string{"/healthz", "/readyz", "/metrics"} {
		w := a.do(t, "GET", p, 0, nil)
		require.Equal(t, http.StatusOK, w.Code, p)
	}

	a.mr.Close()
	w := a.do(t, "GET", "/readyz", 0, nil)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	require.Contains(t, w.Body.String(), "redis not ready")

	w = a.do(t, "GET", "/healthz", 0, nil)
	require.Equal(t, http.StatusOK, w.Code)
}
