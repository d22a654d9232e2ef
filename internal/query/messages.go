package query

import (
	"errors"
	"fmt"

	"github.com/JakeFAU/fre-lookup/internal/lookup"
)

// User-facing messages, in Portuguese.
const (
	MsgInvalidIdentifier = "Informe um CNPJ válido (14 dígitos)."
	MsgOffline           = "Não foi possível acessar os dados da CVM agora. Verifique sua conexão ou carregue resultados salvos em cache."
	MsgNoSnapshot        = "Nenhum resultado em cache para este CNPJ/ano."
	MsgUnexpected        = "Ocorreu um erro inesperado. Tente novamente em instantes."
	Disclaimer           = "O DiligenceGo é uma ferramenta independente e não possui vínculo com a CVM. Os dados são extraídos do Portal de Dados Abertos oficial."
)

// UserMessage maps an error returned by the Service to the text shown to
// end users.
func UserMessage(err error) string {
	var unavailable *lookup.UnavailableError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &unavailable):
		return fmt.Sprintf("A base %s está indisponível no momento. Tente novamente mais tarde ou utilize dados em cache.", unavailable.Dataset)
	case errors.Is(err, lookup.ErrOffline):
		return MsgOffline
	case errors.Is(err, lookup.ErrInvalidIdentifier):
		return MsgInvalidIdentifier
	default:
		return MsgUnexpected
	}
}
