package engine

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/clbanning/mxj/v2"

	"fireedge.io/gateway/models"
)

// parseResponse unpacks the [success, body, code, ...] array the engine
// returns for every method.
func parseResponse(reply []interface{}) (interface{}, error) {
	if len(reply) < 2 {
		return nil, &models.UpstreamError{
			Upstream: Name,
			Status:   http.StatusBadGateway,
			Message:  fmt.Sprintf("malformed engine response with %d elements", len(reply)),
		}
	}

	if ok, _ := reply[0].(bool); !ok {
		code := 0
		if len(reply) > 2 {
			code = toInt(reply[2])
		}
		return nil, &models.UpstreamError{
			Upstream: Name,
			Status:   StatusForCode(code),
			Code:     code,
			Message:  fmt.Sprint(reply[1]),
		}
	}

	return DecodeBody(reply[1])
}

// DecodeBody converts an XML document body into a map. Numbers, booleans
// and plain strings are returned unchanged.
func DecodeBody(body interface{}) (interface{}, error) {
	s, ok := body.(string)
	if !ok {
		return body, nil
	}

	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "<") {
		return s, nil
	}

	doc, err := mxj.NewMapXml([]byte(trimmed))
	if err != nil {
		return nil, &models.UpstreamError{
			Upstream: Name,
			Status:   http.StatusBadGateway,
			Message:  fmt.Sprintf("invalid XML in engine response: %v", err),
		}
	}
	return map[string]interface{}(doc), nil
}

func toInt(v interface{}) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case int32:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}
