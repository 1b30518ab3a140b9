package flows

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/plauth/plauth/autherr"
	"github.com/plauth/plauth/oidcclient"
	"github.com/plauth/plauth/plauthtest"
)

func newDeviceClient(t *testing.T, issuer *plauthtest.Issuer) (*deviceCodeClient, *[]time.Duration) {
	t.Helper()
	client, err := New(&ClientConfig{
		AuthServer: issuer.URL(),
		ClientID:   "cli-device",
		Grant:      GrantDeviceCode,
	})
	if err != nil {
		t.Fatal(err)
	}
	dc := client.(*deviceCodeClient)
	var slept []time.Duration
	dc.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return dc, &slept
}

func TestDeviceLoginPollSequence(t *testing.T) {
	issuer := plauthtest.NewIssuer()
	defer issuer.Close()
	issuer.ScriptDeviceFlow("pending", "slow_down", "pending", "ok")

	dc, slept := newDeviceClient(t, issuer)

	var displayed *oidcclient.DeviceAuthorization
	cred, err := dc.Login(context.Background(), &LoginOptions{
		DisplayDeviceCode: func(da *oidcclient.DeviceAuthorization) error {
			displayed = da
			return nil
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if cred.AccessToken == "" || cred.RefreshToken == "" {
		t.Errorf("approved login returned incomplete credential: %+v", cred)
	}
	if displayed == nil || displayed.UserCode == "" {
		t.Error("user code was never presented")
	}

	// The advertised interval is 1s; slow_down raises it by 5s and the raise
	// must persist for every later poll.
	want := []time.Duration{1 * time.Second, 1 * time.Second, 6 * time.Second, 6 * time.Second}
	if len(*slept) != len(want) {
		t.Fatalf("polled %d times (%v), want %d", len(*slept), *slept, len(want))
	}
	for i, d := range want {
		if (*slept)[i] != d {
			t.Errorf("sleep %d = %v, want %v", i, (*slept)[i], d)
		}
	}
}

func TestDeviceLoginDenied(t *testing.T) {
	issuer := plauthtest.NewIssuer()
	defer issuer.Close()
	issuer.ScriptDeviceFlow("pending", "denied")

	dc, _ := newDeviceClient(t, issuer)
	da, err := dc.Initiate(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	_, err = dc.Complete(context.Background(), da)

	var fe *autherr.FlowError
	if !errors.As(err, &fe) {
		t.Fatalf("got %T (%v), want *autherr.FlowError", err, err)
	}
	var oe *autherr.OAuthError
	if !errors.As(err, &oe) || oe.Code != "access_denied" {
		t.Errorf("cause = %v, want access_denied", err)
	}
}

func TestDeviceLoginExpiredToken(t *testing.T) {
	issuer := plauthtest.NewIssuer()
	defer issuer.Close()
	issuer.ScriptDeviceFlow("expired")

	dc, _ := newDeviceClient(t, issuer)
	da, err := dc.Initiate(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := dc.Complete(context.Background(), da); err == nil {
		t.Error("expired device code treated as success")
	}
}

func TestDeviceLoginRequiresDisplayHandler(t *testing.T) {
	issuer := plauthtest.NewIssuer()
	defer issuer.Close()

	dc, _ := newDeviceClient(t, issuer)
	var fe *autherr.FlowError
	if _, err := dc.Login(context.Background(), nil); !errors.As(err, &fe) {
		t.Errorf("Login without DisplayDeviceCode: got %v, want FlowError", err)
	}
}

func TestDeviceLoginHonorsContextCancel(t *testing.T) {
	issuer := plauthtest.NewIssuer()
	defer issuer.Close()
	issuer.ScriptDeviceFlow("pending", "pending", "pending")

	dc, _ := newDeviceClient(t, issuer)
	dc.sleep = sleepContext

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	da, err := dc.Initiate(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := dc.Complete(ctx, da); !errors.Is(err, context.Canceled) {
		t.Errorf("got %v, want context.Canceled", err)
	}
}
