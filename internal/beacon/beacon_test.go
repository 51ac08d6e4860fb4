package beacon

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Empty(t *testing.T) {
	b := New()

	require.NotNil(t, b.Data())
	assert.Empty(t, b.Data())
	assert.True(t, b.Empty())
	assert.Equal(t, 0, b.Len())
}

func TestZeroValue_DataNotNil(t *testing.T) {
	var b Beacon
	assert.NotNil(t, b.Data())
	assert.Len(t, b.Data(), 0)
}

func TestAppend_PreservesOrder(t *testing.T) {
	b := New()
	records := []Record{
		&AjaxRequest{URL: "/a"},
		&AjaxRequest{URL: "/b"},
		&UserSession{Browser: "firefox"},
	}
	for _, r := range records {
		b.Append(r)
	}

	require.Equal(t, 3, b.Len())
	assert.Equal(t, records, b.Data())
}

func TestAppend_SkipsNil(t *testing.T) {
	b := New()
	b.Append(nil, &AjaxRequest{URL: "/a"}, nil)
	assert.Equal(t, 1, b.Len())
}

func TestAppend_SkipsTypedNil(t *testing.T) {
	b := New()
	var missing *AjaxRequest
	b.Append(missing, &UserSession{Browser: "firefox"}, (*HostMetrics)(nil))
	require.Equal(t, 1, b.Len())

	out, err := json.Marshal(b)
	require.NoError(t, err)
	assert.JSONEq(t, `{"data":[{"type":"userSession","browser":"firefox"}]}`, string(out))
}

func TestMarshal_TypedNilInStorageErrors(t *testing.T) {
	b := Of(&AjaxRequest{URL: "/a"})
	b.Data()[0] = (*AjaxRequest)(nil)

	assert.NotPanics(t, func() {
		_, err := json.Marshal(b)
		assert.Error(t, err)
	})
}

func TestIsNil(t *testing.T) {
	assert.True(t, IsNil(nil))
	assert.True(t, IsNil((*PageLoadRequest)(nil)))
	assert.False(t, IsNil(&PageLoadRequest{}))
	assert.False(t, IsNil(UserSession{}))
}

func TestData_AliasesStorage(t *testing.T) {
	b := Of(&AjaxRequest{URL: "/a"})

	b.Data()[0] = &AjaxRequest{URL: "/replaced"}

	assert.Equal(t, "/replaced", b.Data()[0].(*AjaxRequest).URL)
}

func TestSnapshot_DoesNotAlias(t *testing.T) {
	b := Of(&AjaxRequest{URL: "/a"})
	snap := b.Snapshot()

	snap[0] = &AjaxRequest{URL: "/replaced"}
	b.Append(&AjaxRequest{URL: "/b"})

	assert.Len(t, snap, 1)
	assert.Equal(t, "/a", b.Data()[0].(*AjaxRequest).URL)
}

func TestMarshal_EmptyOmitsData(t *testing.T) {
	out, err := json.Marshal(New())
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(out))

	var zero Beacon
	out, err = json.Marshal(zero)
	require.NoError(t, err)
	assert.Equal(t, `{}`, string(out))
}

func TestMarshal_TwoRecords(t *testing.T) {
	a := &AjaxRequest{Base: Base{SessionID: "s1"}, URL: "/api", Method: "GET", Status: 200, DurationMs: 12.5}
	d := &DOMListenerExecution{EventType: "click", ElementType: "BUTTON", ElementID: "buy"}
	b := Of(a, d)

	out, err := json.Marshal(b)
	require.NoError(t, err)

	assert.JSONEq(t, `{"data":[
		{"type":"ajaxRequest","sessionId":"s1","url":"/api","method":"GET","status":200,"duration":12.5},
		{"type":"domListenerExecution","eventType":"click","elementType":"BUTTON","elementID":"buy","duration":0}
	]}`, string(out))

	var generic map[string][]map[string]any
	require.NoError(t, json.Unmarshal(out, &generic))
	require.Len(t, generic["data"], 2)
	assert.Equal(t, "ajaxRequest", generic["data"][0]["type"])
	assert.Equal(t, "domListenerExecution", generic["data"][1]["type"])
}

func TestMarshal_EmbeddedInOtherStruct(t *testing.T) {
	wrapper := struct {
		Beacon *Beacon `json:"beacon"`
	}{Beacon: Of(&UserSession{Browser: "chrome"})}

	out, err := json.Marshal(wrapper)
	require.NoError(t, err)
	assert.JSONEq(t, `{"beacon":{"data":[{"type":"userSession","browser":"chrome"}]}}`, string(out))
}

func TestUnmarshal_DecodesKinds(t *testing.T) {
	in := `{"data":[
		{"type":"pageLoadRequest","sessionId":"s1","url":"/","loadEventEnd":900},
		{"type":"resourceLoadRequest","url":"/app.js","initiatorType":"script","duration":40},
		{"type":"hostMetrics","hostname":"web-1","cpuPercent":12.5,"memoryPercent":40,"load1":0.3,"diskPercent":71}
	]}`

	b := New()
	require.NoError(t, json.Unmarshal([]byte(in), b))
	require.Equal(t, 3, b.Len())

	page, ok := b.Data()[0].(*PageLoadRequest)
	require.True(t, ok)
	assert.Equal(t, "s1", page.SessionID)
	assert.EqualValues(t, 900, page.LoadEventEnd)

	res, ok := b.Data()[1].(*ResourceLoadRequest)
	require.True(t, ok)
	assert.Equal(t, "script", res.InitiatorType)

	host, ok := b.Data()[2].(*HostMetrics)
	require.True(t, ok)
	assert.Equal(t, "web-1", host.Hostname)
	assert.Equal(t, 12.5, host.CPUPercent)
}

func TestUnmarshal_EmptyObject(t *testing.T) {
	b := Of(&AjaxRequest{URL: "/stale"})
	require.NoError(t, json.Unmarshal([]byte(`{}`), b))
	assert.NotNil(t, b.Data())
	assert.True(t, b.Empty())
}

func TestUnmarshal_UnknownKind(t *testing.T) {
	b := New()
	err := json.Unmarshal([]byte(`{"data":[{"type":"clickStorm"}]}`), b)
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestUnmarshal_MissingKind(t *testing.T) {
	b := New()
	err := json.Unmarshal([]byte(`{"data":[{"url":"/"}]}`), b)
	assert.ErrorIs(t, err, ErrMissingKind)
}

type badRecord struct{}

func (badRecord) Kind() string { return "bad" }

func (badRecord) MarshalJSON() ([]byte, error) { return []byte(`[1,2]`), nil }

func TestEncodeRecord_RejectsNonObject(t *testing.T) {
	_, err := json.Marshal(Of(badRecord{}))
	assert.Error(t, err)
}

func TestEncodeRecord_EmptyBody(t *testing.T) {
	out, err := EncodeRecord(UserSession{})
	require.NoError(t, err)
	assert.Equal(t, `{"type":"userSession"}`, string(out))
}

func TestSessionOf(t *testing.T) {
	assert.Equal(t, "s9", SessionOf(&AjaxRequest{Base: Base{SessionID: "s9"}}))
	assert.Equal(t, "", SessionOf(&HostMetrics{Hostname: "h"}))
	assert.Equal(t, "", SessionOf((*AjaxRequest)(nil)))
}

func TestRegister_Duplicate(t *testing.T) {
	assert.Panics(t, func() {
		Register(KindAjax, func() Record { return &AjaxRequest{} })
	})
}

func TestKinds_Sorted(t *testing.T) {
	kinds := Kinds()
	assert.Contains(t, kinds, KindDOMListener)
	assert.IsIncreasing(t, kinds)
}
