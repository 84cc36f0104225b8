package growatt

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/raterudder/chargeplan/pkg/types"
)

const (
	cookieSelectedPlantID  = "selectedPlantId"
	cookieMemoryDeviceType = "memoryDeviceType"
	cookieMemoryDeviceSn   = "memoryDeviceSn"

	mixDeviceType = "mix"
)

// RequestContext is the device selection the portal reads from cookies
// instead of from the request body. It is built per call and attached to a
// single request, so one session can serve several devices at once.
type RequestContext struct {
	PlantID string
	// DeviceTypeToken is the encoded memoryDeviceType cookie value.
	DeviceTypeToken string
	// DeviceSerialToken is the encoded memoryDeviceSn cookie value.
	DeviceSerialToken string
}

type memoryEntry struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// NewRequestContext encodes the target the way the portal's web UI does:
// a one-element JSON array keyed by plant, with every space removed, then
// form-encoded for the device type and path-encoded for the serial.
func NewRequestContext(target types.DeviceTarget) (RequestContext, error) {
	if target.PlantID == "" {
		return RequestContext{}, errors.New("missing plant id")
	}
	if target.DeviceSerial == "" {
		return RequestContext{}, errors.New("missing device serial")
	}

	deviceType, err := compactJSON([]memoryEntry{{Key: target.PlantID, Value: mixDeviceType}})
	if err != nil {
		return RequestContext{}, err
	}
	// the portal expects a literal % between type and serial
	deviceSn, err := compactJSON([]memoryEntry{{Key: target.PlantID, Value: mixDeviceType + "%" + target.DeviceSerial}})
	if err != nil {
		return RequestContext{}, err
	}

	return RequestContext{
		PlantID:           target.PlantID,
		DeviceTypeToken:   quotePlus(deviceType),
		DeviceSerialToken: quote(deviceSn),
	}, nil
}

// Cookies returns the three selection cookies.
func (rc RequestContext) Cookies() []*http.Cookie {
	return []*http.Cookie{
		{Name: cookieSelectedPlantID, Value: rc.PlantID},
		{Name: cookieMemoryDeviceType, Value: rc.DeviceTypeToken},
		{Name: cookieMemoryDeviceSn, Value: rc.DeviceSerialToken},
	}
}

func (rc RequestContext) apply(req *http.Request) {
	for _, c := range rc.Cookies() {
		req.AddCookie(c)
	}
}

func compactJSON(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return strings.ReplaceAll(strings.TrimSpace(buf.String()), " ", ""), nil
}

// quotePlus escapes like a form value: spaces become '+'.
func quotePlus(s string) string {
	return url.QueryEscape(s)
}

// quote escapes like a URL path: spaces become %20 and '/' is kept.
func quote(s string) string {
	s = url.QueryEscape(s)
	s = strings.ReplaceAll(s, "+", "%20")
	return strings.ReplaceAll(s, "%2F", "/")
}
