package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/gowvp/skylapse/internal/conf"
	"github.com/gowvp/skylapse/internal/core/assembler"
	"github.com/gowvp/skylapse/internal/core/query"
	"github.com/gowvp/skylapse/internal/core/resource"
	"github.com/gowvp/skylapse/internal/core/scheduler"
	"github.com/gowvp/skylapse/internal/core/storage"
	"github.com/gowvp/skylapse/internal/core/storage/store/storagedb"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var day = time.Date(2024, 6, 21, 0, 0, 0, 0, time.UTC)

func newTestHandler(t *testing.T) (http.Handler, storage.Core) {
	t.Helper()
	bc := conf.DefaultConfig()
	bc.Storage.Root = t.TempDir()
	bc.Resources = []conf.Resource{
		{Number: 102, Name: "cam", TimeZone: "UTC", Folder: "cam102", Active: true, Format: "jpg"},
		{Number: 300, Name: "station", TimeZone: "UTC", Folder: "station300", Active: true, Format: "txt"},
	}
	reg, err := resource.NewRegistry(bc.Resources)
	require.NoError(t, err)
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	store := storage.NewCore(storagedb.NewDB(db).AutoMigrate(true), reg, storage.WithConfig(&bc.Storage))
	asm := assembler.NewCore(store, nil, assembler.WithConfig(&bc.Codec))
	uc := Usecase{
		Conf:        &bc,
		ResourceAPI: NewResourceAPI(store, query.NewCore(store), asm, &bc),
		Scheduler:   scheduler.New(reg, store, asm),
	}
	return NewHTTPHandler(&uc), store
}

func upload(t *testing.T, h http.Handler, method, url string, files map[string]string, fields map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	for field, name := range files {
		fw, err := w.CreateFormFile(field, name)
		require.NoError(t, err)
		_, _ = fw.Write([]byte("content of " + name))
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(method, url, &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func get(h http.Handler, url string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, url, nil))
	return rec
}

func TestStoreAndFindInstances(t *testing.T) {
	h, store := newTestHandler(t)

	rec := upload(t, h, http.MethodPost, "/resources/102/instances", map[string]string{"file": "20240621050000.jpg"}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.FileExists(t, filepath.Join(store.Layout().Root, "cam102", "2024", "June", "21", "20240621050000.jpg"))

	start := day.Add(5 * time.Hour)
	url := fmt.Sprintf("/resources/102/instances?start_ms=%d&end_ms=%d&count=3&payload=true", start.UnixMilli(), start.Add(30*time.Minute).UnixMilli())
	rec = get(h, url)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var out findInstancesOutput
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out.Items, 3)
	require.NotNil(t, out.Items[0])
	require.Nil(t, out.Items[1])
	require.Nil(t, out.Items[2])
	require.Equal(t, "image", out.Items[0].Kind)
	require.Equal(t, "/media/cam102/2024/June/21/20240621050000.jpg", out.Items[0].URL)
	require.Equal(t, "content of 20240621050000.jpg", string(out.Items[0].Payload))

	rec = get(h, out.Items[0].URL)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "content of 20240621050000.jpg", rec.Body.String())
}

func TestStoreInstanceRejects(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := upload(t, h, http.MethodPost, "/resources/999/instances", map[string]string{"file": "20240621050000.jpg"}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = upload(t, h, http.MethodPost, "/resources/102/instances", map[string]string{"file": "nodate.jpg"}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = upload(t, h, http.MethodPost, "/resources/102/instances", map[string]string{"file": "20240621050000.txt"}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code, "station readings do not belong to a camera")

	rec = upload(t, h, http.MethodPost, "/resources/102/instances",
		map[string]string{"file": "x.mp4"},
		map[string]string{"kind": "day_video", "start_ms": fmt.Sprint(day.UnixMilli())})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStoreAndFindDayLong(t *testing.T) {
	h, store := newTestHandler(t)

	rec := upload(t, h, http.MethodPut, "/resources/102/daylong",
		map[string]string{"standard": "std.mp4", "low": "low.mp4"},
		map[string]string{"day": "2024-06-21", "segments": "20"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	entries, err := os.ReadDir(store.Layout().Root)
	require.NoError(t, err)
	for _, e := range entries {
		require.NotContains(t, e.Name(), ".upload-", "temporary uploads are cleaned")
	}

	url := fmt.Sprintf("/resources/102/daylong?start_ms=%d&end_ms=%d&count=2", day.UnixMilli(), day.AddDate(0, 0, 2).UnixMilli())
	rec = get(h, url)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var out findDayLongOutput
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out.Standard, 2)
	require.Len(t, out.Low, 2)
	require.NotNil(t, out.Standard[0])
	require.NotNil(t, out.Low[0])
	require.True(t, out.Low[0].LowQuality)
	require.Nil(t, out.Standard[1])
	require.Nil(t, out.Low[1])

	rec = get(h, out.Low[0].URL)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "content of low.mp4", rec.Body.String())
}

func TestPlaylist(t *testing.T) {
	h, _ := newTestHandler(t)
	url := fmt.Sprintf("/resources/102/index.m3u8?start_ms=%d&end_ms=%d", day.UnixMilli(), day.AddDate(0, 0, 1).UnixMilli())

	rec := get(h, url)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = upload(t, h, http.MethodPost, "/resources/102/instances", map[string]string{"file": "20240621020000.mp4"}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = get(h, url)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/vnd.apple.mpegurl", rec.Header().Get("Content-Type"))
	require.Contains(t, rec.Body.String(), "/media/cam102/2024/June/21/20240621020000.mp4")

	rec = get(h, "/resources/102/index.m3u8")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFoldersAndHealth(t *testing.T) {
	h, _ := newTestHandler(t)
	rec := upload(t, h, http.MethodPost, "/resources/300/instances",
		map[string]string{"file": "20240621073000.txt"}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = get(h, "/resources/300/folders")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "2024/June/21")

	rec = get(h, "/health")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestFindInstancesByVideoFormat(t *testing.T) {
	h, _ := newTestHandler(t)
	for hour := range 6 {
		name := day.Add(time.Duration(hour)*time.Hour).Format("20060102150405") + ".mp4"
		rec := upload(t, h, http.MethodPost, "/resources/102/instances", map[string]string{"file": name}, nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}

	url := fmt.Sprintf("/resources/102/instances?start_ms=%d&end_ms=%d&count=24&format=mp4", day.UnixMilli(), day.AddDate(0, 0, 1).UnixMilli())
	rec := get(h, url)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var out findInstancesOutput
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out.Items, 24)
	for i, it := range out.Items {
		if i < 6 {
			require.NotNil(t, it, "hour %d", i)
			require.Equal(t, "hour_video", it.Kind)
			continue
		}
		require.Nil(t, it, "hour %d", i)
	}
}
