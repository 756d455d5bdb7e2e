package alert

import (
	"errors"

	"github.com/thesisflow/thesisflow/internal/repository"
)

func isNotFound(err error) bool {
	return errors.Is(err, repository.ErrAlertEndpointNotFound) || errors.Is(err, ErrEndpointNotFound)
}
