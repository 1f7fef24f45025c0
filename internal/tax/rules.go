// Package tax validates Brazilian invoice (NF-e) tax highlights against the
// rules for ICMS, IPI, PIS and COFINS and checks document totals.
package tax

import (
	"fmt"
	"math"
	"strings"
)

// Tolerance is the maximum absolute deviation, in currency units, before a
// computed value is considered inconsistent.
const Tolerance = 0.01

// epsilon absorbs binary float error so a difference of exactly one cent is
// still within tolerance.
const epsilon = 1e-9

// Round2 rounds half away from zero to two decimal places.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func exceeds(v float64) bool {
	return v > Tolerance+epsilon
}

func differs(a, b float64) bool {
	return exceeds(math.Abs(a - b))
}

// ICMSStatus is the verdict for an item's ICMS highlight.
type ICMSStatus string

const (
	ICMSValid                    ICMSStatus = "VALID"
	ICMSExemptSNCompliant        ICMSStatus = "EXEMPT_SN_COMPLIANT"
	ICMSSNTaxHighlightError      ICMSStatus = "SN_TAX_HIGHLIGHT_ERROR"
	ICMSCalculationInconsistency ICMSStatus = "CALCULATION_INCONSISTENCY"
	ICMSUndueTaxError            ICMSStatus = "UNDUE_TAX_ERROR"
	ICMSSTError                  ICMSStatus = "ICMS_ST_ERROR"
	ICMSAttentionCalculation     ICMSStatus = "ATTENTION_CALCULATION"
)

// ICMSInput holds the ICMS fields of one invoice item. PICMS is a decimal
// rate (0.18 for 18%).
type ICMSInput struct {
	ItemID          int     `json:"item_id"`
	CST             string  `json:"cst_icms"`
	VProd           float64 `json:"v_prod"`
	VBC             float64 `json:"v_bc_icms"`
	PICMS           float64 `json:"p_icms"`
	VICMS           float64 `json:"v_icms"`
	SimplesNacional bool    `json:"is_simples_nacional"`
}

// ICMSResult is the verdict for one item.
type ICMSResult struct {
	ItemID        int        `json:"item_id"`
	Status        ICMSStatus `json:"status_icms"`
	ErrorType     string     `json:"error_type,omitempty"`
	ExpectedVICMS float64    `json:"expected_v_icms"`
}

// snHighlightAllowed lists the Simples Nacional CSOSN codes that permit an
// ICMS highlight.
var snHighlightAllowed = map[string]bool{"101": true, "201": true, "900": true}

// ValidateICMS checks an item's highlighted ICMS against its CST, base and rate.
func ValidateICMS(in ICMSInput) ICMSResult {
	res := ICMSResult{ItemID: in.ItemID, Status: ICMSValid}
	cst := strings.TrimSpace(in.CST)

	if in.SimplesNacional && !snHighlightAllowed[cst] {
		if exceeds(in.VICMS) {
			res.Status = ICMSSNTaxHighlightError
			res.ErrorType = "Undue ICMS highlight for the tax regime."
			return res
		}
		res.Status = ICMSExemptSNCompliant
		return res
	}

	switch cst {
	case "00":
		res.ExpectedVICMS = Round2(in.VBC * in.PICMS)
		if differs(in.VICMS, res.ExpectedVICMS) {
			res.Status = ICMSCalculationInconsistency
			res.ErrorType = "Calculated ICMS diverges from the highlighted value."
		}
	case "40", "41", "50", "51":
		if exceeds(in.VICMS) || exceeds(in.VBC) {
			res.Status = ICMSUndueTaxError
			res.ErrorType = "ICMS highlight in an exempt/non-taxable operation."
		}
	case "60":
		if exceeds(in.VICMS) {
			res.Status = ICMSSTError
			res.ErrorType = "Undue ICMS highlight (previously charged via ST)."
		}
	default:
		// Reduced base and ST codes only get the plain base × rate check.
		if exceeds(in.VICMS) {
			res.ExpectedVICMS = Round2(in.VBC * in.PICMS)
			if differs(in.VICMS, res.ExpectedVICMS) {
				res.Status = ICMSAttentionCalculation
				res.ErrorType = fmt.Sprintf("ICMS calculation (%s) requires verification of Reduced Base/ST.", cst)
			}
		}
	}
	return res
}

// FederalStatus is the verdict for an item's IPI, PIS and COFINS.
type FederalStatus string

const (
	FederalCompliant      FederalStatus = "COMPLIANT"
	FederalNonCompliance  FederalStatus = "NON_COMPLIANCE_DETECTED"
	FederalSNNonCompliant FederalStatus = "SN_NON_COMPLIANT"
)

// FederalInput holds the federal tax fields of one item. Rates are decimal.
type FederalInput struct {
	ItemID          int     `json:"item_id"`
	SimplesNacional bool    `json:"is_simples_nacional"`
	CSTIPI          string  `json:"cst_ipi"`
	VBCIPI          float64 `json:"v_bc_ipi"`
	PIPI            float64 `json:"p_ipi"`
	VIPI            float64 `json:"v_ipi"`
	CSTPIS          string  `json:"cst_pis"`
	VBCPIS          float64 `json:"v_bc_pis"`
	PPIS            float64 `json:"p_pis"`
	VPIS            float64 `json:"v_pis"`
	CSTCOFINS       string  `json:"cst_cofins"`
	VBCCOFINS       float64 `json:"v_bc_cofins"`
	PCOFINS         float64 `json:"p_cofins"`
	VCOFINS         float64 `json:"v_cofins"`
}

// FederalResult lists the inconsistencies found for one item.
type FederalResult struct {
	ItemID          int           `json:"item_id"`
	Status          FederalStatus `json:"status_federal"`
	Inconsistencies []string      `json:"inconsistencies"`
}

// ValidateFederal checks IPI, PIS and COFINS for one item.
func ValidateFederal(in FederalInput) FederalResult {
	res := FederalResult{ItemID: in.ItemID, Inconsistencies: []string{}}

	if in.SimplesNacional {
		if exceeds(in.VIPI) {
			res.Inconsistencies = append(res.Inconsistencies, "IPI_ERROR: Undue IPI highlight for Simples Nacional.")
		}
		if exceeds(in.VPIS) {
			res.Inconsistencies = append(res.Inconsistencies, "PIS_ERROR: Undue PIS highlight for Simples Nacional.")
		}
		if exceeds(in.VCOFINS) {
			res.Inconsistencies = append(res.Inconsistencies, "COFINS_ERROR: Undue COFINS highlight for Simples Nacional.")
		}
		if len(res.Inconsistencies) > 0 {
			res.Status = FederalSNNonCompliant
			return res
		}
	}

	check := func(tax, cst, want string, base, rate, value float64) {
		if strings.TrimSpace(cst) != want {
			return
		}
		expected := Round2(base * rate)
		if differs(value, expected) {
			res.Inconsistencies = append(res.Inconsistencies, fmt.Sprintf(
				"%s_INCONSISTENCY: %s calculation (R$ %.2f) diverges from expected (R$ %.2f).",
				tax, tax, value, expected))
		}
	}
	check("IPI", in.CSTIPI, "50", in.VBCIPI, in.PIPI, in.VIPI)
	check("PIS", in.CSTPIS, "01", in.VBCPIS, in.PPIS, in.VPIS)
	check("COFINS", in.CSTCOFINS, "01", in.VBCCOFINS, in.PCOFINS, in.VCOFINS)

	if strings.TrimSpace(in.CSTPIS) == "04" && exceeds(in.VPIS) {
		res.Inconsistencies = append(res.Inconsistencies, "PIS_ERROR: PIS highlight in an Exempt operation (CST 04).")
	}
	if strings.TrimSpace(in.CSTCOFINS) == "04" && exceeds(in.VCOFINS) {
		res.Inconsistencies = append(res.Inconsistencies, "COFINS_ERROR: COFINS highlight in an Exempt operation (CST 04).")
	}

	res.Status = FederalCompliant
	if len(res.Inconsistencies) > 0 {
		res.Status = FederalNonCompliance
	}
	return res
}

// TotalStatus is the verdict for the document total.
type TotalStatus string

const (
	TotalCompliant TotalStatus = "COMPLIANT"
	TotalMismatch  TotalStatus = "TOTAL_MISMATCH"
)

// TotalInput holds the consolidated totals of a document.
type TotalInput struct {
	Declared      float64 `json:"v_nf_declarado"`
	Products      float64 `json:"total_v_prod"`
	IPI           float64 `json:"total_v_ipi"`
	ICMSST        float64 `json:"total_v_icms_st"`
	OtherExpenses float64 `json:"total_v_outras_despesas"`
	Discounts     float64 `json:"total_v_descontos"`
}

// TotalResult compares the declared total against the computed one.
type TotalResult struct {
	Status     TotalStatus `json:"status"`
	Calculated float64     `json:"v_nf_calculated"`
	Declared   float64     `json:"v_nf_declared"`
	Mismatch   bool        `json:"is_mismatch"`
	Details    string      `json:"details,omitempty"`
}

// ValidateTotal checks vNF = products + IPI + ICMS-ST + other expenses - discounts.
func ValidateTotal(in TotalInput) TotalResult {
	calculated := Round2(in.Products + in.IPI + in.ICMSST + in.OtherExpenses - in.Discounts)
	res := TotalResult{Status: TotalCompliant, Calculated: calculated, Declared: in.Declared}
	if differs(in.Declared, calculated) {
		res.Status = TotalMismatch
		res.Mismatch = true
		res.Details = fmt.Sprintf("Difference of R$ %.2f", math.Abs(in.Declared-calculated))
	}
	return res
}

// HeaderResult reports whether the document identifiers are well formed.
type HeaderResult struct {
	Valid   bool   `json:"valid"`
	Message string `json:"message"`
}

// ValidateHeader checks the 44-digit access key and the 14-digit issuer CNPJ.
func ValidateHeader(accessKey, issuerCNPJ string) HeaderResult {
	accessKey = strings.TrimSpace(accessKey)
	cnpj := strings.NewReplacer(".", "", "-", "", "/", "").Replace(strings.TrimSpace(issuerCNPJ))

	if n := len(accessKey); n != 44 {
		size := "greater"
		if n < 44 {
			size = "lower"
		}
		return HeaderResult{Message: fmt.Sprintf(
			"Invalid access key, value is %s than 44 digits. Counted %d digits!", size, n)}
	}
	if !allDigits(accessKey) {
		return HeaderResult{Message: "Invalid access key, non-numeric digit found!"}
	}
	if n := len(cnpj); n != 14 {
		return HeaderResult{Message: fmt.Sprintf(
			"Invalid cnpj received, expected 14 digits. Counted %d digits!", n)}
	}
	if !allDigits(cnpj) {
		return HeaderResult{Message: "Invalid cnpj received, non-numeric digit found!"}
	}
	return HeaderResult{Valid: true, Message: "The fields received have been validated successfully!"}
}

func allDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
