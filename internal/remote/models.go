package remote

import (
	"timesheet_sync/internal/domain"
	"timesheet_sync/internal/translator"
)

// Detail represents the remote appointment detail response.
type Detail struct {
	ID          int64  `json:"Id"`
	Client      string `json:"IdCliente"`
	Project     string `json:"IdProjeto"`
	Category    string `json:"IdCategoria"`
	Date        string `json:"Data"`
	StartTime   string `json:"HoraInicial"`
	EndTime     string `json:"HoraFinal"`
	NotMonetize bool   `json:"NaoFaturavel"`
	Description string `json:"Descricao"`
	Commit      string `json:"Commit"`
	Status      string `json:"Status"`
}

func (d Detail) toResult(code string) *domain.RemoteSearchResult {
	return &domain.RemoteSearchResult{
		Code:        code,
		Status:      translator.StatusFromLabel(d.Status),
		Date:        d.Date,
		StartTime:   d.StartTime,
		EndTime:     d.EndTime,
		NotMonetize: d.NotMonetize,
		Description: d.Description,
		Commit:      translator.CommitFromRemote(d.Commit),
		Client:      d.Client,
		Project:     d.Project,
		Category:    d.Category,
	}
}
