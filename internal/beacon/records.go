package beacon

// Record kinds understood by the collector.
const (
	KindPageLoad     = "pageLoadRequest"
	KindAjax         = "ajaxRequest"
	KindResourceLoad = "resourceLoadRequest"
	KindUserSession  = "userSession"
	KindDOMListener  = "domListenerExecution"
	KindHostMetrics  = "hostMetrics"
)

func init() {
	Register(KindPageLoad, func() Record { return &PageLoadRequest{} })
	Register(KindAjax, func() Record { return &AjaxRequest{} })
	Register(KindResourceLoad, func() Record { return &ResourceLoadRequest{} })
	Register(KindUserSession, func() Record { return &UserSession{} })
	Register(KindDOMListener, func() Record { return &DOMListenerExecution{} })
	Register(KindHostMetrics, func() Record { return &HostMetrics{} })
}

// PageLoadRequest holds navigation timings of a page load.
type PageLoadRequest struct {
	Base
	URL              string `json:"url"`
	NavigationStart  int64  `json:"navigationStart,omitempty"`
	DOMContentLoaded int64  `json:"domContentLoadedEventEnd,omitempty"`
	LoadEventEnd     int64  `json:"loadEventEnd,omitempty"`
	ResourceCount    int    `json:"resourceCount,omitempty"`
}

func (PageLoadRequest) Kind() string { return KindPageLoad }

// AjaxRequest is an XHR or fetch call issued by the page.
type AjaxRequest struct {
	Base
	URL        string  `json:"url"`
	BaseURL    string  `json:"baseUrl,omitempty"`
	Method     string  `json:"method,omitempty"`
	Status     int     `json:"status,omitempty"`
	DurationMs float64 `json:"duration"`
}

func (AjaxRequest) Kind() string { return KindAjax }

// ResourceLoadRequest is a single resource timing entry.
type ResourceLoadRequest struct {
	Base
	URL           string  `json:"url"`
	InitiatorType string  `json:"initiatorType,omitempty"`
	TransferSize  int64   `json:"transferSize,omitempty"`
	DurationMs    float64 `json:"duration"`
}

func (ResourceLoadRequest) Kind() string { return KindResourceLoad }

// UserSession describes the browser that opened a monitoring session.
type UserSession struct {
	Base
	Browser  string `json:"browser,omitempty"`
	Device   string `json:"device,omitempty"`
	Language string `json:"language,omitempty"`
}

func (UserSession) Kind() string { return KindUserSession }

// DOMListenerExecution records one run of an instrumented DOM event listener.
type DOMListenerExecution struct {
	Base
	FunctionName string  `json:"functionName,omitempty"`
	EventType    string  `json:"eventType"`
	ElementType  string  `json:"elementType,omitempty"`
	ElementID    string  `json:"elementID,omitempty"`
	DurationMs   float64 `json:"duration"`
}

func (DOMListenerExecution) Kind() string { return KindDOMListener }

// HostMetrics is a point-in-time resource sample from a host agent.
type HostMetrics struct {
	Timestamp     int64   `json:"timestamp"`
	Hostname      string  `json:"hostname"`
	IPAddress     string  `json:"ip,omitempty"`
	MACAddress    string  `json:"mac,omitempty"`
	OS            string  `json:"os,omitempty"`
	Kernel        string  `json:"kernel,omitempty"`
	Arch          string  `json:"arch,omitempty"`
	CPUModel      string  `json:"cpuModel,omitempty"`
	CPUCores      int     `json:"cpuCores,omitempty"`
	CPUPercent    float64 `json:"cpuPercent"`
	MemoryGB      float64 `json:"memoryGb,omitempty"`
	MemoryPercent float64 `json:"memoryPercent"`
	Load1         float64 `json:"load1"`
	DiskPercent   float64 `json:"diskPercent"`
}

func (HostMetrics) Kind() string { return KindHostMetrics }
