package main

import (
	"errors"
	"fmt"
	"testing"

	"udos/internal/dispatch"
)

func TestExitCodeFor(t *testing.T) {
	cases := []struct {
		name string
		resp *dispatch.Response
		want int
	}{
		{"success", &dispatch.Response{Status: dispatch.StatusSuccess}, exitOK},
		{"dry run skipped", &dispatch.Response{Status: dispatch.StatusSkipped}, exitOK},
		{"pending", &dispatch.Response{Status: dispatch.StatusPending}, exitConfirmationRequired},
		{"input invalid", &dispatch.Response{Status: dispatch.StatusError, Code: dispatch.CodeInputInvalid}, exitInputInvalid},
		{"shell blocked", &dispatch.Response{Status: dispatch.StatusError, Code: dispatch.CodeShellBlocked}, exitInputInvalid},
		{"provider rate limit", &dispatch.Response{Status: dispatch.StatusError, Code: dispatch.CodeProviderRateLimit}, exitProviderFailure},
		{"contract unrepairable", &dispatch.Response{Status: dispatch.StatusError, Code: dispatch.CodeContractUnrepairable}, exitContractUnrepairable},
		{"internal", &dispatch.Response{Status: dispatch.StatusError, Code: dispatch.CodeInternal}, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := exitCodeFor(tc.resp); got != tc.want {
				t.Errorf("expected %d, got %d", tc.want, got)
			}
		})
	}
}

func TestExitError_SurvivesWrapping(t *testing.T) {
	err := fmt.Errorf("dispatch: %w", exitError{code: exitProviderFailure})
	var ee exitError
	if !errors.As(err, &ee) {
		t.Fatal("exitError must unwrap from a wrapped chain")
	}
	if ee.code != exitProviderFailure {
		t.Errorf("expected code %d, got %d", exitProviderFailure, ee.code)
	}
}
