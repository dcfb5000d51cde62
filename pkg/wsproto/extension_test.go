package wsproto

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseExtensionHeaderMultipleFieldsAndParams(t *testing.T) {
	offers, err := parseExtensionHeader([]string{
		"permessage-deflate; client_max_window_bits",
		"x-op; op=this, x-other",
	})
	require.NoError(t, err)
	require.Len(t, offers, 3)
	require.Equal(t, "permessage-deflate", offers[0].name)
	require.Equal(t, []Param{{Name: "client_max_window_bits"}}, offers[0].params)
	require.Equal(t, "x-op", offers[1].name)
	require.Equal(t, []Param{{Name: "op", Value: "this"}}, offers[1].params)
	require.Equal(t, "x-other", offers[2].name)
}

func TestFormatExtensionHeaderRoundTrip(t *testing.T) {
	got := formatExtensionHeader("x-op", []Param{{Name: "op", Value: "this"}, {Name: "flag"}})
	require.Equal(t, "x-op; op=this; flag", got)
}

// fakeClientExtFactory offers one parameter and refuses any response whose
// params differ from what it offered, mirroring spec.md §8 scenario 5.
type fakeClientExtFactory struct {
	name   string
	offer  []Param
}

func (f *fakeClientExtFactory) Name() string         { return f.name }
func (f *fakeClientExtFactory) OfferParams() []Param { return f.offer }
func (f *fakeClientExtFactory) ProcessResponseParams(params []Param, _ []Extension) (Extension, error) {
	if len(params) != len(f.offer) {
		return nil, errors.New("param count mismatch")
	}
	for i, p := range params {
		if p != f.offer[i] {
			return nil, errors.New("params do not match offer")
		}
	}
	return &fakeExtension{name: f.name}, nil
}

type fakeExtension struct{ name string }

func (e *fakeExtension) Name() string                        { return e.name }
func (e *fakeExtension) RSV() (bool, bool, bool)              { return true, false, false }
func (e *fakeExtension) Opcodes() []Opcode                    { return nil }
func (e *fakeExtension) Decode(f Frame, _ int) (Frame, error) { return f, nil }
func (e *fakeExtension) Encode(f Frame) (Frame, error)        { return f, nil }

func TestExtensionNegotiationScenario5(t *testing.T) {
	c := NewClientConnection(ClientOptions{
		Extensions: []ClientExtensionFactory{
			&fakeClientExtFactory{name: "x-op", offer: []Param{{Name: "op", Value: "this"}}},
		},
	})
	_, err := c.Connect("ws://example.com/")
	require.NoError(t, err)

	resp := buildResponseWithExtensions(t, c.clientKey, "x-op; op=that")
	hsErr := c.validateClientResponse(resp)
	require.Error(t, hsErr)

	var he *HandshakeError
	require.ErrorAs(t, hsErr, &he)
	require.Equal(t, NegotiationErrorKind, he.Kind)
	require.Contains(t, he.Reason, "x-op")
	require.Contains(t, he.Reason, "that")
	require.Equal(t, StateConnecting, c.State())
}
