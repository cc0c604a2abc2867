package vaultclient

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/hashicorp/vault/api"
	"github.com/ruteri/vault-session-broker/interfaces"
)

// Classify maps Vault API errors onto the session error taxonomy.
// 403 responses become ErrPermissionDenied, anything else ErrExecution.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, interfaces.ErrPermissionDenied) || errors.Is(err, interfaces.ErrExecution) {
		return err
	}
	if isPermissionDenied(err) {
		return fmt.Errorf("%w: %v", interfaces.ErrPermissionDenied, err)
	}
	return fmt.Errorf("%w: %v", interfaces.ErrExecution, err)
}

func isPermissionDenied(err error) bool {
	var apiErr *api.ResponseError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusForbidden
	}
	return false
}

func isNotFound(err error) bool {
	var apiErr *api.ResponseError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusNotFound
	}
	return false
}
