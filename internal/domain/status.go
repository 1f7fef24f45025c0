package domain

// StatusState is the lifecycle state of a progress event.
type StatusState string

const (
	StatePending    StatusState = "pending"
	StateInProgress StatusState = "in-progress"
	StateComplete   StatusState = "complete"
	StateError      StatusState = "error"
)

// Status is a stage-progress event pushed to the session's WebSocket.
type Status struct {
	Name   string      `json:"name"`
	Desc   string      `json:"desc"`
	Status StatusState `json:"status"`
}

// Stage names.
const (
	StageUpload        = "Upload Service"
	StageSupervisor    = "Supervisor"
	StageDataAnalyst   = "Data Analyst"
	StageDataEngineer  = "Data Engineer"
	StageReportGen     = "Report Gen"
	StageTaxSpecialist = "Tax Specialist"
)

// Progress events emitted while a request advances through the pipeline.
var (
	StatusUploadInit   = Status{StageUpload, "Iniciando o processamento do arquivo", StateInProgress}
	StatusUploadZip    = Status{StageUpload, "ZIP detectado, descompactando", StateInProgress}
	StatusUploadCSV    = Status{StageUpload, "CSV detectado, começando leitura", StateInProgress}
	StatusUploadXLSX   = Status{StageUpload, "XLSX detectado, começando leitura", StateInProgress}
	StatusUploadXML    = Status{StageUpload, "XML detectado, começando leitura", StateInProgress}
	StatusUploadImage  = Status{StageUpload, "Escaneando texto da imagem", StateInProgress}
	StatusUploadFinish = Status{StageUpload, "Processamento e leitura finalizado", StateComplete}

	StatusSupervisorInit     = Status{StageSupervisor, "Iniciando Agente Analista", StateInProgress}
	StatusSupervisorProcess  = Status{StageSupervisor, "Analisando solicitação do usuário", StateInProgress}
	StatusSupervisorResponse = Status{StageSupervisor, "Resposta recebida", StateComplete}

	StatusDataAnalystInit     = Status{StageDataAnalyst, "Realizando análise dos dados", StateInProgress}
	StatusDataEngineerInit    = Status{StageDataEngineer, "Realizando tratamento dos dados", StateInProgress}
	StatusDataEngineerExtract = Status{StageDataEngineer, "Extraindo dados relevantes", StateInProgress}
	StatusReportGenInit       = Status{StageReportGen, "Criando relatório detalhando operação", StateInProgress}
	StatusTaxSpecialistInit   = Status{StageTaxSpecialist, "Analisando documento fiscal", StateInProgress}
)

// StatusFailed builds the error event for a stage.
func StatusFailed(stage, desc string) Status {
	return Status{Name: stage, Desc: desc, Status: StateError}
}
