package provenance

import (
	"errors"
	"fmt"
)

// ErrCertificateNotFound is returned when the referenced certificate was
// never issued by this certifier.
var ErrCertificateNotFound = errors.New("certificate not found")

// ErrCertificateIntegrity is returned when verification cannot reproduce a
// certificate's Merkle root or its structural invariants fail.
type ErrCertificateIntegrity struct {
	CertificateID string
	Reason        string
}

func (e *ErrCertificateIntegrity) Error() string {
	return fmt.Sprintf("certificate %s failed integrity check: %s", e.CertificateID, e.Reason)
}
