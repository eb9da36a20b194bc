package service

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"reflect"
)

// ConvertBody decides what, if anything, is sent to the backend.
//
// nil, empty byte slices and strings, http.NoBody, empty maps, and structs
// without exported fields are omitted (nil reader). Bytes, strings, and
// readers are forwarded verbatim. Anything else is JSON-encoded, in which case
// the returned content type is "application/json".
func ConvertBody(body any) (r io.Reader, contentType string, err error) {
	switch b := body.(type) {
	case nil:
		return nil, "", nil
	case []byte:
		if len(b) == 0 {
			return nil, "", nil
		}
		return bytes.NewReader(b), "", nil
	case string:
		if b == "" {
			return nil, "", nil
		}
		return bytes.NewReader([]byte(b)), "", nil
	case io.Reader:
		if b == http.NoBody {
			return nil, "", nil
		}
		return b, "", nil
	}

	if isEmptyObject(reflect.ValueOf(body)) {
		return nil, "", nil
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, "", fmt.Errorf("encode body: %w", err)
	}
	return bytes.NewReader(data), "application/json", nil
}

// isEmptyObject reports whether v is a map without entries or a struct
// without exported fields, looking through pointers and interfaces.
func isEmptyObject(v reflect.Value) bool {
	for v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return true
		}
		v = v.Elem()
	}
	switch v.Kind() {
	case reflect.Map:
		return v.Len() == 0
	case reflect.Struct:
		t := v.Type()
		for i := 0; i < t.NumField(); i++ {
			if t.Field(i).IsExported() {
				return false
			}
		}
		return true
	default:
		return false
	}
}
