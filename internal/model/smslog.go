package model

import "time"

type SmsType string

const (
	SmsTypeLate SmsType = "late"
	SmsTypeSOS  SmsType = "sos"
	SmsTypeTest SmsType = "test"
)

type SmsStatus string

// Status only ever advances pending -> sent -> delivered|failed.
const (
	SmsPending   SmsStatus = "pending"
	SmsSent      SmsStatus = "sent"
	SmsDelivered SmsStatus = "delivered"
	SmsFailed    SmsStatus = "failed"
)

// SmsLogEntry records one outbound message attempt to one contact.
// ProviderMessageID is the gateway's identifier; the delivery reconciler
// keys asynchronous status callbacks on it.
type SmsLogEntry struct {
	ID                string     `json:"id"`
	SessionID         string     `json:"sessionId"`
	ContactID         string     `json:"contactId"`
	PhoneNumber       string     `json:"phoneNumber"`
	MessageBody       string     `json:"messageBody"`
	SmsType           SmsType    `json:"smsType"`
	Status            SmsStatus  `json:"status"`
	ProviderMessageID *string    `json:"providerMessageId,omitempty"`
	RetryCount        int        `json:"retryCount"`
	SentAt            *time.Time `json:"sentAt,omitempty"`
	DeliveredAt       *time.Time `json:"deliveredAt,omitempty"`
	FailureReason     *string    `json:"failureReason,omitempty"`
	CreatedAt         time.Time  `json:"createdAt"`
}
