package rpc

import (
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/coopdev/coop/internal/inputgate"
	"github.com/coopdev/coop/internal/transport/apierr"
)

func TestJSONCodecRoundTrip(t *testing.T) {
	c := jsonCodec{}
	if c.Name() != "json" {
		t.Fatalf("Name() = %q, want json", c.Name())
	}

	in := inputRequest{Text: "hello", Enter: true}
	data, err := c.Marshal(&in)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var out inputRequest
	if err := c.Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if out != in {
		t.Fatalf("round trip mismatch: got %+v, want %+v", out, in)
	}
}

func TestGrpcErrMapsApierrCode(t *testing.T) {
	err := grpcErr(apierr.New(apierr.NotReady, "session not ready"))
	st, ok := status.FromError(err)
	if !ok {
		t.Fatalf("expected a *status.Status error, got %v", err)
	}
	if st.Code() != codes.Unavailable {
		t.Fatalf("code = %v, want Unavailable", st.Code())
	}
}

func TestGrpcErrWrapsPlainError(t *testing.T) {
	err := grpcErr(inputgate.ErrWriterBusy)
	st, ok := status.FromError(err)
	if !ok {
		t.Fatalf("expected a *status.Status error, got %v", err)
	}
	if st.Code() != codes.Internal {
		t.Fatalf("code = %v, want Internal for an un-translated error", st.Code())
	}
}

func TestTranslateGateErr(t *testing.T) {
	cases := []struct {
		in   error
		want apierr.Code
	}{
		{inputgate.ErrWriterBusy, apierr.WriterBusy},
		{inputgate.ErrAgentBusy, apierr.AgentBusy},
		{inputgate.ErrNoPrompt, apierr.NoPrompt},
	}
	for _, tc := range cases {
		got := apierr.As(translateGateErr(tc.in))
		if got.Code != tc.want {
			t.Errorf("translateGateErr(%v).Code = %v, want %v", tc.in, got.Code, tc.want)
		}
	}
}

func TestDecodeB64(t *testing.T) {
	data, err := decodeB64("aGVsbG8=")
	if err != nil {
		t.Fatalf("decodeB64: %v", err)
	}
	if string(data) != "hello" {
		t.Fatalf("decodeB64 = %q, want hello", data)
	}
	if _, err := decodeB64("not base64!!"); err == nil {
		t.Fatal("expected error decoding invalid base64")
	}
}

func TestAuthExemptCoversHookRoutes(t *testing.T) {
	for _, m := range []string{
		"/coop.v1.Session/Health",
		"/coop.v1.Session/HookStart",
		"/coop.v1.Session/HookStop",
		"/coop.v1.Session/StopResolve",
	} {
		if !authExempt[m] {
			t.Errorf("expected %s to be auth-exempt", m)
		}
	}
	if authExempt["/coop.v1.Session/Input"] {
		t.Error("Input must not be auth-exempt")
	}
}
