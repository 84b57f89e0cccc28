package api

import (
	"encoding/base64"
	"encoding/json"
	"io"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"geoattend/internal/apperr"
	"geoattend/internal/attendance"
)

var (
	groupModeOn  = map[string]bool{"true": true, "1": true, "yes": true, "y": true, "on": true, "group": true, "multi": true, "multiple": true}
	groupModeOff = map[string]bool{"": true, "false": true, "0": true, "no": true, "n": true, "off": true, "single": true}
)

// ParseGroupMode decodes the group_mode flag. Only the listed spellings are
// accepted; anything else is a validation error.
func ParseGroupMode(v any) (bool, error) {
	switch t := v.(type) {
	case nil:
		return false, nil
	case bool:
		return t, nil
	case float64:
		switch t {
		case 1:
			return true, nil
		case 0:
			return false, nil
		}
	case string:
		s := strings.ToLower(strings.TrimSpace(t))
		if groupModeOn[s] {
			return true, nil
		}
		if groupModeOff[s] {
			return false, nil
		}
	}
	return false, apperr.Newf(apperr.CodeInvalidInput, "group_mode %v is not a recognized value", v).
		WithSuggestion("use true or false")
}

// punchRequest is the decoded body of POST /v1/attendance/punch and /manual.
type punchRequest struct {
	Direction  attendance.Direction
	EmployeeID string
	GroupMode  bool
	Image      []byte
	Location   attendance.Location
	Threshold  *float64
}

type jsonPunch struct {
	Direction  string   `json:"direction"`
	Type       string   `json:"type"`
	EmployeeID string   `json:"employee_id"`
	GroupMode  any      `json:"group_mode"`
	Image      string   `json:"image"`
	Latitude   *float64 `json:"latitude"`
	Longitude  *float64 `json:"longitude"`
	Address    string   `json:"address"`
	Threshold  *float64 `json:"threshold"`
}

// decodePunch reads a multipart form (image in the "image" file field) or a
// JSON body (image as base64 or a data URL).
func decodePunch(c *gin.Context) (*punchRequest, error) {
	var raw jsonPunch
	var upload []byte
	if strings.HasPrefix(c.ContentType(), "multipart/form-data") {
		var err error
		if upload, err = decodeMultipart(c, &raw); err != nil {
			return nil, err
		}
	} else if err := json.NewDecoder(c.Request.Body).Decode(&raw); err != nil {
		return nil, apperr.Wrap(apperr.CodeInvalidInput, "request body is not valid JSON", err)
	}

	dirText := raw.Direction
	if dirText == "" {
		dirText = raw.Type
	}
	dir, ok := attendance.ParseDirection(dirText)
	if !ok {
		return nil, apperr.Newf(apperr.CodeInvalidInput, "direction %q must be IN or OUT", dirText)
	}
	groupMode, err := ParseGroupMode(raw.GroupMode)
	if err != nil {
		return nil, err
	}

	req := &punchRequest{
		Direction:  dir,
		EmployeeID: strings.TrimSpace(raw.EmployeeID),
		GroupMode:  groupMode,
		Location:   attendance.Location{Latitude: raw.Latitude, Longitude: raw.Longitude, Address: strings.TrimSpace(raw.Address)},
		Threshold:  raw.Threshold,
	}
	if raw.Image != "" {
		if req.Image, err = decodeBase64Image(raw.Image); err != nil {
			return nil, err
		}
	}
	if len(upload) > 0 {
		req.Image = upload
	}
	return req, nil
}

// decodeMultipart fills raw from form values and returns the uploaded image file, if any.
func decodeMultipart(c *gin.Context, raw *jsonPunch) ([]byte, error) {
	form, err := c.MultipartForm()
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInvalidInput, "invalid multipart form", err)
	}
	get := func(key string) string {
		if v := form.Value[key]; len(v) > 0 {
			return v[0]
		}
		return ""
	}
	raw.Direction = get("direction")
	raw.Type = get("type")
	raw.EmployeeID = get("employee_id")
	raw.Address = get("address")
	raw.Image = get("image")
	if v, ok := form.Value["group_mode"]; ok && len(v) > 0 {
		raw.GroupMode = v[0]
	}
	for key, dst := range map[string]**float64{"latitude": &raw.Latitude, "longitude": &raw.Longitude, "threshold": &raw.Threshold} {
		s := strings.TrimSpace(get(key))
		if s == "" {
			continue
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, apperr.Newf(apperr.CodeInvalidInput, "%s must be a number", key)
		}
		*dst = &f
	}

	files := form.File["image"]
	if len(files) == 0 {
		return nil, nil
	}
	fh, err := files[0].Open()
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInvalidInput, "image upload unreadable", err)
	}
	defer fh.Close()
	data, err := io.ReadAll(fh)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInvalidInput, "image upload unreadable", err)
	}
	return data, nil
}

func decodeBase64Image(s string) ([]byte, error) {
	if i := strings.Index(s, ","); strings.HasPrefix(s, "data:") && i >= 0 {
		s = s[i+1:]
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInvalidInput, "image is not valid base64", err)
	}
	if len(data) == 0 {
		return nil, apperr.New(apperr.CodeInvalidInput, "image is empty")
	}
	return data, nil
}
