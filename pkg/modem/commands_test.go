package modem

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseIPv4(t *testing.T) {
	tests := []struct {
		in   string
		want uint32
	}{
		{"52.220.84.189", 0x34DC54BD},
		{"0.0.0.1", 1},
		{"255.255.255.255", 0xFFFFFFFF},
		{"256.0.0.1", 0},
		{"1.2.3", 0},
		{"a.b.c.d", 0},
		{"", 0},
	}
	for _, tt := range tests {
		if got := ParseIPv4(tt.in); got != tt.want {
			t.Errorf("ParseIPv4(%q) = %#x, want %#x", tt.in, got, tt.want)
		}
	}
}

func TestReadNetworkRegistrationStatus(t *testing.T) {
	m, port := newTestModem()
	port.script("+CEREG:0,1", "OK")

	info, err := m.ReadNetworkRegistrationStatus()
	require.NoError(t, err)
	assert.Equal(t, StatusRegistered, info.Status)
	assert.Equal(t, 0, info.URC)
	assert.Equal(t, "REGISTERED", info.Status.String())
}

func TestRegistrationStatusUnknownOnFailure(t *testing.T) {
	m, port := newTestModem()
	port.script("ERROR")
	assert.Equal(t, StatusUnknown, m.RegistrationStatus())
}

func TestReadSignalQuality(t *testing.T) {
	m, port := newTestModem()
	port.script("+CSQ:20,99", "OK")

	q, err := m.ReadSignalQuality()
	require.NoError(t, err)
	assert.True(t, q.Known())
	assert.Equal(t, -73, q.DBm())
	assert.Equal(t, 99, q.BER)

	m, port = newTestModem()
	port.script("+CSQ:99,99", "OK")
	q, err = m.ReadSignalQuality()
	require.NoError(t, err)
	assert.False(t, q.Known())
}

func TestReadPDPAddressAndOperator(t *testing.T) {
	m, port := newTestModem()
	port.script("+CGPADDR:0,10.1.2.3", "OK")
	port.script(`+COPS:0,2,"52003"`, "OK")

	addr, err := m.ReadPDPAddress(0)
	require.NoError(t, err)
	assert.Equal(t, "10.1.2.3", addr.Addr.Text)
	assert.Equal(t, uint32(0x0A010203), addr.Addr.Value)

	op, err := m.ReadOperator()
	require.NoError(t, err)
	assert.Equal(t, "52003", op.Name)
	assert.Equal(t, 2, op.Format)

	assert.Equal(t, []string{"AT+CGPADDR=0", "AT+COPS?"}, port.commands())
}

func TestReadIMEIStripsPrefix(t *testing.T) {
	m, port := newTestModem()
	port.script("+CGSN:863703030000000", "OK")

	imei, err := m.ReadIMEI()
	require.NoError(t, err)
	assert.Equal(t, "863703030000000", imei)
}

func TestIsPSAttached(t *testing.T) {
	m, port := newTestModem()
	port.script("+CGATT:1", "OK")

	attached, err := m.IsPSAttached()
	require.NoError(t, err)
	assert.True(t, attached)
}

func TestConfigAutoConnect(t *testing.T) {
	m, port := newTestModem()
	port.script("OK", "OK")

	require.NoError(t, m.ConfigAutoConnect(true))
	require.NoError(t, m.ConfigAutoConnect(false))
	assert.Equal(t, []string{"AT+NCONFIG=AUTOCONNECT,TRUE", "AT+NCONFIG=AUTOCONNECT,FALSE"}, port.commands())
}

func TestReboot(t *testing.T) {
	m, port := newTestModem()
	port.script("REBOOTING", "REBOOT_CAUSE_APPLICATION_AT", "OK")
	require.NoError(t, m.Reboot(true))

	m, port = newTestModem()
	port.script("BUSY")
	assert.ErrorIs(t, m.Reboot(false), ErrMalformedResponse)
}

func TestPingHost(t *testing.T) {
	m, port := newTestModem()
	port.script("OK", "+NPING:8.8.8.8,52,830")

	res, err := m.PingHost("8.8.8.8", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "8.8.8.8", res.Addr.Text)
	assert.Equal(t, 52, res.TTL)
	assert.Equal(t, 830*time.Millisecond, res.RTT)
	assert.Equal(t, []string{"AT+NPING=8.8.8.8,16,1000"}, port.commands())
}

func TestPingHostError(t *testing.T) {
	m, port := newTestModem()
	port.script("OK", "+NPINGERR:1")

	_, err := m.PingHost("8.8.8.8", time.Second)
	assert.ErrorIs(t, err, ErrPingFailed)
}

func TestSimpleQueries(t *testing.T) {
	tests := []struct {
		cmd  string
		call func(*Modem) (string, error)
	}{
		{"AT+CIMI", (*Modem).ReadIMSI},
		{"AT+CGMI", (*Modem).ReadManufacturer},
		{"AT+CGMM", (*Modem).ReadModel},
		{"AT+CGMR", (*Modem).ReadRevision},
	}
	for _, tt := range tests {
		t.Run(tt.cmd, func(t *testing.T) {
			m, port := newTestModem()
			port.script("value", "OK")

			got, err := tt.call(m)
			require.NoError(t, err)
			assert.Equal(t, "value", got)
			assert.Equal(t, []string{tt.cmd}, port.commands())
		})
	}
}
