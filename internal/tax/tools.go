package tax

import (
	"context"

	"github.com/ashureev/smartfin/internal/tool"
)

type headerArgs struct {
	AccessKey  string `json:"access_key"`
	IssuerCNPJ string `json:"issuer_cnpj"`
}

// Tools returns the validation tools exposed to the tax specialist agent.
func Tools() []tool.Tool {
	num := func(desc string) map[string]any { return tool.Prop("number", desc) }
	str := func(desc string) map[string]any { return tool.Prop("string", desc) }

	return []tool.Tool{
		tool.New("validate_document_header",
			"Check if the access key (44 digits) and issuer CNPJ (14 digits) are valid for a Brazilian invoice (NF-e).",
			tool.Object(map[string]any{
				"access_key":  str("The NF-e 44 digit access key."),
				"issuer_cnpj": str("The issuer company CNPJ."),
			}, "access_key", "issuer_cnpj"),
			func(_ context.Context, a headerArgs) (any, error) {
				return ValidateHeader(a.AccessKey, a.IssuerCNPJ), nil
			}),

		tool.New("validate_icms",
			"Check if the highlighted ICMS value complies with the CST, tax base and rate. Call once per invoice item.",
			tool.Object(map[string]any{
				"item_id":             tool.Prop("integer", "Sequential item number."),
				"cst_icms":            str("ICMS CST or CSOSN code, e.g. \"00\", \"41\", \"101\"."),
				"v_prod":              num("Gross product value (vProd)."),
				"v_bc_icms":           num("ICMS tax base (vBC)."),
				"p_icms":              num("ICMS rate as a decimal, e.g. 0.18 for 18%."),
				"v_icms":              num("Highlighted ICMS value (vICMS)."),
				"is_simples_nacional": tool.Prop("boolean", "Whether the issuer is under the Simples Nacional regime."),
			}, "item_id", "cst_icms", "v_prod", "v_bc_icms", "p_icms", "v_icms"),
			func(_ context.Context, in ICMSInput) (any, error) {
				return ValidateICMS(in), nil
			}),

		tool.New("validate_federal_taxes",
			"Check IPI, PIS and COFINS compliance for one item. Rates are decimals.",
			tool.Object(map[string]any{
				"item_id":             tool.Prop("integer", "Sequential item number."),
				"is_simples_nacional": tool.Prop("boolean", "Whether the issuer is under the Simples Nacional regime."),
				"cst_ipi":             str("IPI CST."),
				"v_bc_ipi":            num("IPI tax base."),
				"p_ipi":               num("IPI rate."),
				"v_ipi":               num("Highlighted IPI value."),
				"cst_pis":             str("PIS CST."),
				"v_bc_pis":            num("PIS tax base."),
				"p_pis":               num("PIS rate."),
				"v_pis":               num("Highlighted PIS value."),
				"cst_cofins":          str("COFINS CST."),
				"v_bc_cofins":         num("COFINS tax base."),
				"p_cofins":            num("COFINS rate."),
				"v_cofins":            num("Highlighted COFINS value."),
			}, "item_id", "is_simples_nacional"),
			func(_ context.Context, in FederalInput) (any, error) {
				return ValidateFederal(in), nil
			}),

		tool.New("validate_total_note_value",
			"Check if the declared total note value (vNF) matches products + IPI + ICMS ST + other expenses - discounts.",
			tool.Object(map[string]any{
				"v_nf_declarado":          num("Declared total note value (vNF)."),
				"total_v_prod":            num("Sum of all item vProd."),
				"total_v_ipi":             num("Sum of all item vIPI."),
				"total_v_icms_st":         num("Sum of all item vICMSST."),
				"total_v_outras_despesas": num("Sum of other accessory expenses."),
				"total_v_descontos":       num("Sum of discounts."),
			}, "v_nf_declarado", "total_v_prod"),
			func(_ context.Context, in TotalInput) (any, error) {
				return ValidateTotal(in), nil
			}),
	}
}
