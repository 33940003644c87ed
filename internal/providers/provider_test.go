package providers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NordCoder/Shipnotify/internal/domain/notification"
)

type panicky struct{}

func (panicky) ID() string                        { return "panicky" }
func (panicky) Channels() []notification.Channel { return []notification.Channel{notification.ChannelSMS} }
func (panicky) Send(context.Context, *notification.ProviderConfig, Message) Result {
	panic("boom")
}

func TestRegistry_LookupPerChannel(t *testing.T) {
	r := NewDefaultRegistry(Defaults{DefaultRegion: "IN"})

	for _, tc := range []struct {
		channel notification.Channel
		id      string
	}{
		{notification.ChannelEmail, "smtp"},
		{notification.ChannelEmail, "zeptomail"},
		{notification.ChannelSMS, "twilio"},
		{notification.ChannelWhatsApp, "twilio"},
		{notification.ChannelSMS, "msg91"},
		{notification.ChannelWhatsApp, "meta_whatsapp"},
		{notification.ChannelWebhook, "webhook"},
		{notification.ChannelWebhook, "console"},
	} {
		p, ok := r.Lookup(tc.channel, tc.id)
		require.True(t, ok, "%s/%s", tc.channel, tc.id)
		assert.Equal(t, tc.id, p.ID())
	}

	_, ok := r.Lookup(notification.ChannelEmail, "twilio")
	assert.False(t, ok)
	assert.Equal(t, []string{"console", "msg91", "twilio"}, r.IDs(notification.ChannelSMS))
}

func TestSafeSend_RecoversPanic(t *testing.T) {
	res := SafeSend(context.Background(), panicky{}, &notification.ProviderConfig{}, Message{}, nil)
	assert.False(t, res.Success)
	assert.Equal(t, KindProvider, res.ErrorKind)
	assert.Contains(t, res.Error, "boom")
}

func TestPhoneNormalizer(t *testing.T) {
	n := PhoneNormalizer{DefaultRegion: "IN"}

	got, err := n.E164("98765 43210", "")
	require.NoError(t, err)
	assert.Equal(t, "+919876543210", got)

	got, err = n.E164("+44 7911 123456", "")
	require.NoError(t, err)
	assert.Equal(t, "+447911123456", got)

	got, err = n.E164("(650) 253-0000", "us")
	require.NoError(t, err)
	assert.Equal(t, "+16502530000", got)

	for _, bad := range []string{"", "12345", "not a number"} {
		_, err := n.E164(bad, "")
		assert.Error(t, err, bad)
	}
}

func TestMapVars(t *testing.T) {
	vars := map[string]string{"tracking_code": "TC1", "status_label": "Delivered"}
	assert.Equal(t, map[string]string{"VAR1": "TC1", "VAR2": "Delivered", "VAR3": ""},
		mapVars("VAR1=tracking_code, VAR2=status_label,VAR3=missing", vars))
	assert.Equal(t, vars, mapVars("", vars))
}

func TestTemplateFor(t *testing.T) {
	cfg := map[string]string{"template_id": "default", "template_id.delivered": "dlv"}
	assert.Equal(t, "dlv", templateFor(cfg, "template_id", "delivered"))
	assert.Equal(t, "default", templateFor(cfg, "template_id", "exception"))
}
