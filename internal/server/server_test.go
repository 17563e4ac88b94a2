package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"bookstock/internal/app"
	"bookstock/pkg/store"
)

func newTestServer(t *testing.T, cfg Config) *httptest.Server {
	t.Helper()
	if cfg.App == nil {
		a, err := app.New(app.Config{Store: store.NewMemoryStore()})
		if err != nil {
			t.Fatalf("new app: %v", err)
		}
		cfg.App = a
	}
	srv, err := New(cfg)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts
}

func postJSON(t *testing.T, url string, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func createAuthorAndBook(t *testing.T, baseURL, barcode string) uint {
	t.Helper()
	resp := postJSON(t, baseURL+"/authors", `{"name":"Italo Calvino","birthDate":"1923-10-15"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create author: status %d", resp.StatusCode)
	}
	var author struct {
		ID uint `json:"id"`
	}
	decodeBody(t, resp, &author)

	resp = postJSON(t, baseURL+"/books", fmt.Sprintf(
		`{"title":"Invisible Cities","publishYear":1972,"authorId":%d,"barcode":%q}`, author.ID, barcode))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create book: status %d", resp.StatusCode)
	}
	var book struct {
		ID uint `json:"id"`
	}
	decodeBody(t, resp, &book)
	return book.ID
}

func TestCatalogEndpoints(t *testing.T) {
	ts := newTestServer(t, Config{})
	bookID := createAuthorAndBook(t, ts.URL, "C-001")

	// duplicate identity is a conflict
	resp := postJSON(t, ts.URL+"/authors", `{"name":"Italo Calvino","birthDate":"1923-10-15"}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate author: status %d, want 409", resp.StatusCode)
	}

	// birth date at the floor is rejected
	resp = postJSON(t, ts.URL+"/authors", `{"name":"Anon","birthDate":"1900-01-01"}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("floor birth date: status %d, want 400", resp.StatusCode)
	}

	// barcode search
	searchResp, err := http.Get(ts.URL + "/books?barcode=c-0")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	var search struct {
		Found int `json:"found"`
		Items []struct {
			ID uint `json:"id"`
		} `json:"items"`
	}
	decodeBody(t, searchResp, &search)
	if search.Found != 1 || len(search.Items) != 1 || search.Items[0].ID != bookID {
		t.Fatalf("unexpected search result: %+v", search)
	}

	// details carry the nested author and a zero quantity
	detailsResp, err := http.Get(fmt.Sprintf("%s/books/%d", ts.URL, bookID))
	if err != nil {
		t.Fatalf("details: %v", err)
	}
	var details struct {
		Title    string `json:"title"`
		Quantity int    `json:"quantity"`
		Author   struct {
			Name string `json:"name"`
		} `json:"author"`
	}
	decodeBody(t, detailsResp, &details)
	if details.Title != "Invisible Cities" || details.Author.Name != "Italo Calvino" || details.Quantity != 0 {
		t.Fatalf("unexpected details: %+v", details)
	}

	// unknown book is a 404
	missingResp, err := http.Get(ts.URL + "/books/9999")
	if err != nil {
		t.Fatalf("missing book: %v", err)
	}
	missingResp.Body.Close()
	if missingResp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing book: status %d, want 404", missingResp.StatusCode)
	}
}

func TestLeftoverEndpoints(t *testing.T) {
	ts := newTestServer(t, Config{})
	bookID := createAuthorAndBook(t, ts.URL, "C-001")

	resp := postJSON(t, ts.URL+"/leftover/add", `{"barcode":"C-001","quantity":5}`)
	var added struct {
		Quantity int `json:"quantity"`
	}
	decodeBody(t, resp, &added)
	if resp.StatusCode != http.StatusCreated || added.Quantity != 5 {
		t.Fatalf("add: status %d quantity %d", resp.StatusCode, added.Quantity)
	}

	resp = postJSON(t, ts.URL+"/leftover/remove", `{"barcode":"C-001","quantity":3}`)
	var removed struct {
		Quantity int `json:"quantity"`
	}
	decodeBody(t, resp, &removed)
	if removed.Quantity != 2 {
		t.Fatalf("remove: quantity %d, want 2", removed.Quantity)
	}

	historyResp, err := http.Get(fmt.Sprintf("%s/history/%d", ts.URL, bookID))
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	var history struct {
		StartBalance int `json:"startBalance"`
		EndBalance   int `json:"endBalance"`
		History      []struct {
			Quantity int `json:"quantity"`
		} `json:"history"`
	}
	decodeBody(t, historyResp, &history)
	if history.StartBalance != 5 || history.EndBalance != -3 || len(history.History) != 2 {
		t.Fatalf("unexpected history: %+v", history)
	}

	// unknown barcode is a 404
	resp = postJSON(t, ts.URL+"/leftover/add", `{"barcode":"NOPE","quantity":1}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown barcode: status %d, want 404", resp.StatusCode)
	}

	// missing quantity is rejected before the core is called
	resp = postJSON(t, ts.URL+"/leftover/add", `{"barcode":"C-001"}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing quantity: status %d, want 400", resp.StatusCode)
	}
}

func TestRecordDeltaEndpoint(t *testing.T) {
	ts := newTestServer(t, Config{})
	bookID := createAuthorAndBook(t, ts.URL, "C-001")

	for _, qty := range []int{4, -2} {
		resp := postJSON(t, fmt.Sprintf("%s/history/%d", ts.URL, bookID), fmt.Sprintf(`{"quantity":%d}`, qty))
		resp.Body.Close()
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("record delta %d: status %d", qty, resp.StatusCode)
		}
	}

	detailsResp, err := http.Get(fmt.Sprintf("%s/books/%d", ts.URL, bookID))
	if err != nil {
		t.Fatalf("details: %v", err)
	}
	var details struct {
		Quantity int `json:"quantity"`
	}
	decodeBody(t, detailsResp, &details)
	if details.Quantity != -2 {
		t.Fatalf("quantity = %d, want -2", details.Quantity)
	}
}

func uploadFile(t *testing.T, url, filename string, contents []byte) *http.Response {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write(contents); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	resp, err := http.Post(url+"/leftover/bulk", mw.FormDataContentType(), &body)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	return resp
}

func TestBulkUploadEndpoint(t *testing.T) {
	ts := newTestServer(t, Config{})
	createAuthorAndBook(t, ts.URL, "123")

	resp := uploadFile(t, ts.URL, "feed.txt", []byte("BRC123\nQNT10\nBRC999\nQNT5"))
	var result struct {
		Committed int      `json:"committed"`
		Errors    []string `json:"errors"`
	}
	decodeBody(t, resp, &result)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("upload: status %d", resp.StatusCode)
	}
	if result.Committed != 1 || len(result.Errors) != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}

	// unsupported extensions are rejected outright
	resp = uploadFile(t, ts.URL, "feed.csv", []byte("barcode,quantity\n123,10"))
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("csv upload: status %d, want 400", resp.StatusCode)
	}
}

func TestBulkUploadRateLimit(t *testing.T) {
	redis := miniredis.RunT(t)
	ts := newTestServer(t, Config{
		RedisAddr:              redis.Addr(),
		BulkRateLimitPerMinute: 1,
	})
	createAuthorAndBook(t, ts.URL, "123")

	resp := uploadFile(t, ts.URL, "feed.txt", []byte("BRC123\nQNT10"))
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("first upload: status %d", resp.StatusCode)
	}

	resp = uploadFile(t, ts.URL, "feed.txt", []byte("BRC123\nQNT10"))
	resp.Body.Close()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("second upload: status %d, want 429", resp.StatusCode)
	}
}

func TestServerRequiresRedisForRateLimit(t *testing.T) {
	a, err := app.New(app.Config{Store: store.NewMemoryStore()})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	if _, err := New(Config{App: a, BulkRateLimitPerMinute: 1}); err == nil {
		t.Fatalf("expected error when rate limit set without redis addr")
	}
}
