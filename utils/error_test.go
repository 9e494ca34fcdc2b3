package utils

import (
	"errors"
	"net/http"
	"testing"
)

func TestStatusError(t *testing.T) {

	err := NewStatusError(errors.New("unauthorized"), http.StatusUnauthorized)

	var se StatusError
	if !errors.As(err, &se) {
		t.Fatalf("expected a StatusError, got %T", err)
	}
	if se.Status() != http.StatusUnauthorized {
		t.Errorf("expected status %d, got %d", http.StatusUnauthorized, se.Status())
	}
	if se.Error() != "unauthorized" {
		t.Errorf("expected message unauthorized, got %s", se.Error())
	}
}
