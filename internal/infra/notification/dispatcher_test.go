package notification

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driveport/api/pkg/logger"
)

type fakeSender struct {
	channel   string
	recipient string
	subject   string
	body      string
	err       error
}

func (s *fakeSender) Channel() string { return s.channel }

func (s *fakeSender) Send(_ context.Context, recipient, subject, body string) error {
	if s.err != nil {
		return s.err
	}
	s.recipient = recipient
	s.subject = subject
	s.body = body
	return nil
}

func TestDispatcher_RoutesByChannel(t *testing.T) {
	email := &fakeSender{channel: "email"}
	sms := &fakeSender{channel: "sms"}
	d := NewDispatcher(logger.NewNop(), email, sms)

	err := d.Send(context.Background(), "+2348000000001", "sms", "Code", "482910")
	require.NoError(t, err)

	assert.Equal(t, "+2348000000001", sms.recipient)
	assert.Empty(t, email.recipient)
}

func TestDispatcher_UnknownChannel(t *testing.T) {
	d := NewDispatcher(logger.NewNop(), &fakeSender{channel: "email"})

	err := d.Send(context.Background(), "x", "carrier-pigeon", "s", "b")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "carrier-pigeon")
}

func TestDispatcher_SenderFailurePropagates(t *testing.T) {
	d := NewDispatcher(logger.NewNop(), &fakeSender{channel: "email", err: errors.New("smtp down")})

	err := d.Send(context.Background(), "a@b.c", "email", "s", "b")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "smtp down")
}

func TestDispatcher_Channels(t *testing.T) {
	d := NewDispatcher(logger.NewNop(), &fakeSender{channel: "email"}, &fakeSender{channel: "sms"})
	assert.ElementsMatch(t, []string{"email", "sms"}, d.Channels())
}

type fakeDirectory struct {
	contacts map[string]Contact
	err      error
}

func (f *fakeDirectory) ContactFor(_ context.Context, principalID string) (Contact, error) {
	if f.err != nil {
		return Contact{}, f.err
	}
	c, ok := f.contacts[principalID]
	if !ok {
		return Contact{}, errors.New("not found")
	}
	return c, nil
}

func TestOTPDeliverer_SendsToRegisteredChannel(t *testing.T) {
	sms := &fakeSender{channel: "sms"}
	d := NewDispatcher(logger.NewNop(), sms)
	directory := &fakeDirectory{contacts: map[string]Contact{
		"p1": {Channel: "sms", Address: "+2348000000001"},
	}}

	deliverer := NewOTPDeliverer(directory, d, "driveport")
	require.NoError(t, deliverer.Deliver(context.Background(), "p1", "482910"))

	assert.Equal(t, "+2348000000001", sms.recipient)
	assert.Contains(t, sms.body, "482910")
	assert.Contains(t, sms.subject, "driveport")
}

func TestOTPDeliverer_UnknownPrincipal(t *testing.T) {
	d := NewDispatcher(logger.NewNop(), &fakeSender{channel: "sms"})
	deliverer := NewOTPDeliverer(&fakeDirectory{contacts: map[string]Contact{}}, d, "driveport")

	err := deliverer.Deliver(context.Background(), "ghost", "482910")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ghost")
}
