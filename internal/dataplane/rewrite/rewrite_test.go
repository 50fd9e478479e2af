package rewrite

import (
	"net/url"
	"testing"
)

func TestOriginRewriter_PreservesPathAndQuery(t *testing.T) {
	r := New("http", "10.0.0.5:8080")
	original, _ := url.Parse("https://client-facing/api/v1/items?sort=asc")

	got := r.Rewrite(original)

	if got.Scheme != "http" {
		t.Errorf("expected scheme http, got %s", got.Scheme)
	}
	if got.Host != "10.0.0.5:8080" {
		t.Errorf("expected host 10.0.0.5:8080, got %s", got.Host)
	}
	if got.Path != "/api/v1/items" {
		t.Errorf("expected path preserved, got %s", got.Path)
	}
	if got.RawQuery != "sort=asc" {
		t.Errorf("expected query preserved, got %s", got.RawQuery)
	}
}
