package modem

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrPingFailed indicates AT+NPING reported +NPINGERR.
var ErrPingFailed = errors.New("modem: host ping failed")

// NetworkStatus is the EPS registration status reported by AT+CEREG?.
type NetworkStatus uint8

// Registration states.
const (
	StatusNotRegistered NetworkStatus = iota
	StatusRegistered
	StatusSearching
	StatusRegistrationDenied
	StatusUnknown
	StatusRegisteredRoaming
	StatusRegisteredSMSOnly
	StatusRegisteredSMSRoaming
	StatusRegisteredEmergency
	StatusRegisteredCSFBNotPreferred
	StatusRegisteredCSFBNotPreferredRoaming
)

var networkStatusNames = [...]string{
	"NOT_REGISTERED",
	"REGISTERED",
	"SEARCHING",
	"REGISTRATION_DENIED",
	"UNKNOWN",
	"REGISTERED_ROAMING",
	"REGISTERED_SMS_ONLY",
	"REGISTERED_SMS_ROAMING",
	"REGISTERED_EMERGENCY",
	"REGISTERED_CSFB_NOT_PREFERRED",
	"REGISTERED_CSFB_NOT_PREFERRED_ROAMING",
}

// String returns the status name.
func (s NetworkStatus) String() string {
	if int(s) < len(networkStatusNames) {
		return networkStatusNames[s]
	}
	return "UNKNOWN"
}

// Phone functionality levels for AT+CFUN.
const (
	FunctionalityMinimum = 0
	FunctionalityFull    = 1
)

// RegistrationInfo is the parsed +CEREG response.
type RegistrationInfo struct {
	URC    int
	Status NetworkStatus
}

// RadioConnection is the parsed +CSCON response.
type RadioConnection struct {
	URC int
	// Mode is 0 for idle, 1 for connected.
	Mode int
}

// SignalQuality is the parsed +CSQ response.
type SignalQuality struct {
	RSSI int
	BER  int
}

// Known reports whether the modem could measure the signal.
func (q SignalQuality) Known() bool {
	return q.RSSI < 99
}

// DBm converts RSSI to dBm. Only meaningful when Known is true.
func (q SignalQuality) DBm() int {
	return -113 + 2*q.RSSI
}

// IPv4Addr is an address in dotted-quad and integer form.
type IPv4Addr struct {
	Text  string
	Value uint32
}

// NewIPv4Addr parses s. Value is 0 when s is not a dotted quad.
func NewIPv4Addr(s string) IPv4Addr {
	return IPv4Addr{Text: s, Value: ParseIPv4(s)}
}

func (a IPv4Addr) String() string {
	return a.Text
}

// ParseIPv4 converts a dotted-quad string to its big-endian integer form.
// It returns 0 when s does not hold four octets.
func ParseIPv4(s string) uint32 {
	parts := strings.Split(s, ".")
	if len(parts) != 4 {
		return 0
	}
	var v uint32
	for _, p := range parts {
		n, err := strconv.ParseUint(p, 10, 8)
		if err != nil {
			return 0
		}
		v = v<<8 | uint32(n)
	}
	return v
}

// PDPAddress is the parsed +CGPADDR response.
type PDPAddress struct {
	CID  int
	Addr IPv4Addr
}

// Operator is the parsed +COPS response.
type Operator struct {
	Mode   int
	Format int
	Name   string
}

// PingResult is the parsed +NPING response.
type PingResult struct {
	Addr IPv4Addr
	TTL  int
	RTT  time.Duration
}

// Ping checks that the modem answers AT with OK.
func (m *Modem) Ping() error {
	return m.exec("AT")
}

// SetErrorResponseFormat sets AT+CMEE=n.
func (m *Modem) SetErrorResponseFormat(n int) error {
	return m.exec(fmt.Sprintf("AT+CMEE=%d", n))
}

// ConfigAutoConnect enables or disables automatic network attach.
func (m *Modem) ConfigAutoConnect(enabled bool) error {
	if enabled {
		return m.exec("AT+NCONFIG=AUTOCONNECT,TRUE")
	}
	return m.exec("AT+NCONFIG=AUTOCONNECT,FALSE")
}

// SetPhoneFunctionality sets AT+CFUN. A zero timeout uses DefaultCFUNTimeout.
func (m *Modem) SetPhoneFunctionality(level int, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultCFUNTimeout
	}
	return m.execTimeout(fmt.Sprintf("AT+CFUN=%d", level), timeout)
}

// Reboot issues AT+NRB. With wait set it also waits for the reboot cause
// line and the final OK.
func (m *Modem) Reboot(wait bool) error {
	const cmd = "AT+NRB"
	if err := m.WriteCommand(cmd); err != nil {
		return err
	}

	if err := m.expectLine(cmd, "REBOOTING", m.config.ReadTimeout); err != nil {
		return err
	}
	if !wait {
		return nil
	}
	if err := m.expectLine(cmd, "REBOOT_CAUSE_APPLICATION_AT", DefaultRebootTimeout); err != nil {
		return err
	}
	return annotate(cmd, m.WaitForOK(m.config.ReadTimeout))
}

func (m *Modem) expectLine(cmd, line string, timeout time.Duration) error {
	rsp, err := m.ReadResponse(timeout)
	if err != nil {
		return err
	}
	if err := expect(rsp, ResponseData, cmd); err != nil {
		return annotate(cmd, err)
	}
	if rsp.Payload != line {
		return fmt.Errorf("%s: %w: got %q, want %q", cmd, ErrMalformedResponse, rsp.Payload, line)
	}
	return nil
}

// ReadNetworkRegistrationStatus queries AT+CEREG?.
func (m *Modem) ReadNetworkRegistrationStatus() (RegistrationInfo, error) {
	const cmd = "AT+CEREG?"
	data, err := m.query(cmd)
	if err != nil {
		return RegistrationInfo{}, err
	}
	f, err := fields(cmd, data, "+CEREG:", 2)
	if err != nil {
		return RegistrationInfo{}, err
	}
	ints, err := atois(cmd, f[:2])
	if err != nil {
		return RegistrationInfo{}, err
	}
	return RegistrationInfo{URC: ints[0], Status: NetworkStatus(ints[1])}, nil
}

// RegistrationStatus returns the registration status, or StatusUnknown when
// the query fails.
func (m *Modem) RegistrationStatus() NetworkStatus {
	info, err := m.ReadNetworkRegistrationStatus()
	if err != nil {
		m.debugLog("CEREG query failed", "error", err)
		return StatusUnknown
	}
	return info.Status
}

// ReadRadioConnectionStatus queries AT+CSCON?.
func (m *Modem) ReadRadioConnectionStatus() (RadioConnection, error) {
	const cmd = "AT+CSCON?"
	data, err := m.query(cmd)
	if err != nil {
		return RadioConnection{}, err
	}
	f, err := fields(cmd, data, "+CSCON:", 2)
	if err != nil {
		return RadioConnection{}, err
	}
	ints, err := atois(cmd, f[:2])
	if err != nil {
		return RadioConnection{}, err
	}
	return RadioConnection{URC: ints[0], Mode: ints[1]}, nil
}

// ReadSignalQuality queries AT+CSQ.
func (m *Modem) ReadSignalQuality() (SignalQuality, error) {
	const cmd = "AT+CSQ"
	data, err := m.query(cmd)
	if err != nil {
		return SignalQuality{}, err
	}
	f, err := fields(cmd, data, "+CSQ:", 2)
	if err != nil {
		return SignalQuality{}, err
	}
	ints, err := atois(cmd, f[:2])
	if err != nil {
		return SignalQuality{}, err
	}
	return SignalQuality{RSSI: ints[0], BER: ints[1]}, nil
}

// ReadPDPAddress queries AT+CGPADDR for one context.
func (m *Modem) ReadPDPAddress(cid int) (PDPAddress, error) {
	cmd := fmt.Sprintf("AT+CGPADDR=%d", cid)
	data, err := m.query(cmd)
	if err != nil {
		return PDPAddress{}, err
	}
	f, err := fields(cmd, data, "+CGPADDR:", 2)
	if err != nil {
		return PDPAddress{}, err
	}
	ints, err := atois(cmd, f[:1])
	if err != nil {
		return PDPAddress{}, err
	}
	return PDPAddress{CID: ints[0], Addr: NewIPv4Addr(f[1])}, nil
}

// ReadOperator queries AT+COPS?.
func (m *Modem) ReadOperator() (Operator, error) {
	const cmd = "AT+COPS?"
	data, err := m.query(cmd)
	if err != nil {
		return Operator{}, err
	}
	f, err := fields(cmd, data, "+COPS:", 3)
	if err != nil {
		return Operator{}, err
	}
	ints, err := atois(cmd, f[:2])
	if err != nil {
		return Operator{}, err
	}
	return Operator{Mode: ints[0], Format: ints[1], Name: strings.Trim(f[2], `"`)}, nil
}

// IsPSAttached queries AT+CGATT?.
func (m *Modem) IsPSAttached() (bool, error) {
	const cmd = "AT+CGATT?"
	data, err := m.query(cmd)
	if err != nil {
		return false, err
	}
	f, err := fields(cmd, data, "+CGATT:", 1)
	if err != nil {
		return false, err
	}
	ints, err := atois(cmd, f[:1])
	if err != nil {
		return false, err
	}
	return ints[0] != 0, nil
}

// AttachPS attaches to the packet domain.
func (m *Modem) AttachPS() error {
	return m.exec("AT+CGATT=1")
}

// DetachPS detaches from the packet domain.
func (m *Modem) DetachPS() error {
	return m.exec("AT+CGATT=0")
}

// ReadIMEI returns the modem IMEI.
func (m *Modem) ReadIMEI() (string, error) {
	data, err := m.query("AT+CGSN=1")
	if err != nil {
		return "", err
	}
	return strings.TrimPrefix(data, "+CGSN:"), nil
}

// ReadIMSI returns the SIM IMSI.
func (m *Modem) ReadIMSI() (string, error) {
	return m.query("AT+CIMI")
}

// ReadManufacturer returns the manufacturer identification.
func (m *Modem) ReadManufacturer() (string, error) {
	return m.query("AT+CGMI")
}

// ReadModel returns the model identification.
func (m *Modem) ReadModel() (string, error) {
	return m.query("AT+CGMM")
}

// ReadRevision returns the firmware revision.
func (m *Modem) ReadRevision() (string, error) {
	return m.query("AT+CGMR")
}

// PingHost sends an ICMP echo from the modem. A zero timeout uses
// DefaultPingTimeout.
func (m *Modem) PingHost(addr string, timeout time.Duration) (PingResult, error) {
	if timeout <= 0 {
		timeout = DefaultPingTimeout
	}
	cmd := fmt.Sprintf("AT+NPING=%s,16,%d", addr, timeout.Milliseconds())
	if err := m.execTimeout(cmd, m.config.ReadTimeout); err != nil {
		return PingResult{}, err
	}

	// The result arrives as an unsolicited line once the echo completes.
	rsp, err := m.ReadResponse(timeout + time.Second)
	if err != nil {
		return PingResult{}, err
	}
	if err := expect(rsp, ResponseData, cmd); err != nil {
		return PingResult{}, annotate(cmd, err)
	}
	if strings.HasPrefix(rsp.Payload, "+NPINGERR") {
		return PingResult{}, fmt.Errorf("%w: %s", ErrPingFailed, rsp.Payload)
	}

	f, err := fields(cmd, rsp.Payload, "+NPING:", 3)
	if err != nil {
		return PingResult{}, err
	}
	ints, err := atois(cmd, f[1:3])
	if err != nil {
		return PingResult{}, err
	}
	return PingResult{
		Addr: NewIPv4Addr(f[0]),
		TTL:  ints[0],
		RTT:  time.Duration(ints[1]) * time.Millisecond,
	}, nil
}

// fields strips prefix from data and splits the rest on commas, requiring
// at least n fields.
func fields(cmd, data, prefix string, n int) ([]string, error) {
	rest, ok := strings.CutPrefix(data, prefix)
	if !ok {
		return nil, fmt.Errorf("%s: %w: %q", cmd, ErrMalformedResponse, data)
	}
	f := strings.Split(rest, ",")
	if len(f) < n {
		return nil, fmt.Errorf("%s: %w: %q", cmd, ErrMalformedResponse, data)
	}
	return f, nil
}

func atois(cmd string, s []string) ([]int, error) {
	out := make([]int, len(s))
	for i, v := range s {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return nil, fmt.Errorf("%s: %w: %q", cmd, ErrMalformedResponse, v)
		}
		out[i] = n
	}
	return out, nil
}
