package main

import (
	"net/http"
	"testing"
)

func TestPercentile(t *testing.T) {
	v := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	if got := percentile(v, 0.5); got != 5 {
		t.Fatalf("p50 = %v", got)
	}
	if got := percentile(v, 0.99); got != 10 {
		t.Fatalf("p99 = %v", got)
	}
	if got := percentile(nil, 0.5); got != 0 {
		t.Fatalf("empty = %v", got)
	}
}

func TestClassify(t *testing.T) {
	cases := map[int]string{
		http.StatusCreated:             "placed",
		http.StatusOK:                  "placed",
		http.StatusConflict:            "insufficient_stock",
		http.StatusServiceUnavailable:  "retryable",
		http.StatusUnprocessableEntity: "rejected",
		http.StatusInternalServerError: "http_5xx",
		0:                              "transport",
	}
	for status, want := range cases {
		if got := classify(status); got != want {
			t.Errorf("classify(%d) = %q, want %q", status, got, want)
		}
	}
}

func TestOversold(t *testing.T) {
	if oversold(10, 0, 10, 1) {
		t.Fatal("exact sell-out is not an oversell")
	}
	if !oversold(10, 0, 11, 1) {
		t.Fatal("more placed units than stock moved")
	}
	if !oversold(10, -1, 11, 1) {
		t.Fatal("negative stock")
	}
}
