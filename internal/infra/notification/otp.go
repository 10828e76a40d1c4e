package notification

import (
	"context"
	"fmt"
)

// Contact is a principal's registered delivery address.
type Contact struct {
	Channel string // email, sms
	Address string
}

// ContactDirectory resolves a principal's primary contact.
// postgres.ContactRepository satisfies it.
type ContactDirectory interface {
	ContactFor(ctx context.Context, principalID string) (Contact, error)
}

// OTPDeliverer formats one-time codes and sends them to the principal's
// registered channel. It satisfies the job queue's OTPDeliverer interface.
type OTPDeliverer struct {
	contacts   ContactDirectory
	dispatcher *Dispatcher
	appName    string
}

// NewOTPDeliverer creates the deliverer.
func NewOTPDeliverer(contacts ContactDirectory, dispatcher *Dispatcher, appName string) *OTPDeliverer {
	return &OTPDeliverer{contacts: contacts, dispatcher: dispatcher, appName: appName}
}

// Deliver looks up the principal's contact and sends the code. The code is
// never logged here; it appears only in the outbound message.
func (d *OTPDeliverer) Deliver(ctx context.Context, principalID, code string) error {
	contact, err := d.contacts.ContactFor(ctx, principalID)
	if err != nil {
		return fmt.Errorf("resolve contact for %s: %w", principalID, err)
	}

	subject := fmt.Sprintf("%s verification code", d.appName)
	body := fmt.Sprintf("Your %s verification code is %s. It expires shortly; do not share it.", d.appName, code)

	return d.dispatcher.Send(ctx, contact.Address, contact.Channel, subject, body)
}
