package dingtalk

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// maxResponseBytes bounds how much of a vendor response body is read.
const maxResponseBytes = 4 << 20

// decodeVendorResponse applies the shared DingTalk error convention:
//   - non-2xx → *TransportError, message from the first of httpMsgKeys, else the raw text
//   - 2xx with errcode/errCode/code that is a non-zero number, or a non-empty
//     string other than "0"/"OK" → *ProtocolError
//
// A body that is empty or not a JSON object decodes to a nil map.
func decodeVendorResponse(resp *http.Response, httpMsgKeys ...string) (map[string]any, error) {
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &TransportError{Status: 0, Message: "read response body", Err: err}
	}

	var body map[string]any
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &body)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := pickTruthyString(body, httpMsgKeys...)
		if msg == "" {
			msg = string(raw)
		}
		if msg == "" {
			msg = fmt.Sprintf("HTTP %d", resp.StatusCode)
		}
		return body, &TransportError{Status: resp.StatusCode, Message: msg}
	}

	if err := vendorCodeError(body); err != nil {
		return body, err
	}
	return body, nil
}

func vendorCodeError(body map[string]any) error {
	code := firstPresent(body["errcode"], body["errCode"], body["code"])
	switch c := code.(type) {
	case float64:
		if c != 0 {
			msg := pickTruthyString(body, "errmsg", "message")
			if msg == "" {
				msg = "errcode=" + toStr(c)
			}
			return &ProtocolError{Code: toStr(c), Message: msg}
		}
	case string:
		if c != "" && c != "0" && c != "OK" {
			msg := pickTruthyString(body, "message", "errmsg")
			if msg == "" {
				msg = c
			}
			return &ProtocolError{Code: c, Message: msg}
		}
	}
	return nil
}
