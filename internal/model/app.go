package model

const (
	AppServiceName      = "report_orchestrator"
	UploaderServiceName = "report_uploader"
	NamespaceName       = "webitel"
)

var versions = []string{
	"26.10",
	"26.08",
}

var (
	CurrentVersion = versions[0]
)
