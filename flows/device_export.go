package flows

import (
	"context"

	"github.com/plauth/plauth/credential"
	"github.com/plauth/plauth/oidcclient"
)

// DeviceAuthClient is implemented by flows that support the split
// initiate/complete device login, letting applications present the user
// code however they like instead of going through LoginOptions.
type DeviceAuthClient interface {
	AuthClient
	Initiate(ctx context.Context, opts *LoginOptions) (*oidcclient.DeviceAuthorization, error)
	Complete(ctx context.Context, da *oidcclient.DeviceAuthorization) (*credential.Credential, error)
}

var _ DeviceAuthClient = (*deviceCodeClient)(nil)
