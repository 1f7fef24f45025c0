package tax

import (
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

// Document is the subset of an NF-e needed for tax auditing.
type Document struct {
	AccessKey       string     `json:"access_key"`
	IssuerCNPJ      string     `json:"issuer_cnpj"`
	RecipientCNPJ   string     `json:"recipient_cnpj,omitempty"`
	Operation       string     `json:"operation,omitempty"`
	IssuedAt        string     `json:"issued_at,omitempty"`
	SimplesNacional bool       `json:"is_simples_nacional"`
	Items           []Item     `json:"items"`
	Totals          TotalInput `json:"totals"`
}

// Item is one product line with its ICMS and federal tax fields.
type Item struct {
	Number      int          `json:"n_item"`
	Description string       `json:"x_prod"`
	NCM         string       `json:"ncm,omitempty"`
	CFOP        string       `json:"cfop,omitempty"`
	ICMS        ICMSInput    `json:"icms"`
	Federal     FederalInput `json:"federal"`
}

type nfeXML struct {
	InfNFe infNFeXML `xml:"infNFe"`
}

type nfeProcXML struct {
	NFe nfeXML `xml:"NFe"`
}

type infNFeXML struct {
	ID  string `xml:"Id,attr"`
	Ide struct {
		NatOp string `xml:"natOp"`
		DhEmi string `xml:"dhEmi"`
	} `xml:"ide"`
	Emit struct {
		CNPJ string `xml:"CNPJ"`
		CRT  string `xml:"CRT"`
	} `xml:"emit"`
	Dest struct {
		CNPJ string `xml:"CNPJ"`
	} `xml:"dest"`
	Det   []detXML `xml:"det"`
	Total struct {
		ICMSTot struct {
			VProd  float64 `xml:"vProd"`
			VST    float64 `xml:"vST"`
			VIPI   float64 `xml:"vIPI"`
			VOutro float64 `xml:"vOutro"`
			VDesc  float64 `xml:"vDesc"`
			VNF    float64 `xml:"vNF"`
		} `xml:"ICMSTot"`
	} `xml:"total"`
}

type detXML struct {
	NItem int `xml:"nItem,attr"`
	Prod  struct {
		XProd string  `xml:"xProd"`
		NCM   string  `xml:"NCM"`
		CFOP  string  `xml:"CFOP"`
		VProd float64 `xml:"vProd"`
	} `xml:"prod"`
	Imposto struct {
		ICMS struct {
			Groups []taxGroupXML `xml:",any"`
		} `xml:"ICMS"`
		IPI struct {
			Groups []taxGroupXML `xml:",any"`
		} `xml:"IPI"`
		PIS struct {
			Groups []taxGroupXML `xml:",any"`
		} `xml:"PIS"`
		COFINS struct {
			Groups []taxGroupXML `xml:",any"`
		} `xml:"COFINS"`
	} `xml:"imposto"`
}

// taxGroupXML covers the per-CST groups (ICMS00, ICMSSN102, IPITrib,
// PISAliq, ...) which share field names within a tax.
type taxGroupXML struct {
	CST     string  `xml:"CST"`
	CSOSN   string  `xml:"CSOSN"`
	VBC     float64 `xml:"vBC"`
	PICMS   float64 `xml:"pICMS"`
	VICMS   float64 `xml:"vICMS"`
	PIPI    float64 `xml:"pIPI"`
	VIPI    float64 `xml:"vIPI"`
	PPIS    float64 `xml:"pPIS"`
	VPIS    float64 `xml:"vPIS"`
	PCOFINS float64 `xml:"pCOFINS"`
	VCOFINS float64 `xml:"vCOFINS"`
}

func firstGroup(groups []taxGroupXML) taxGroupXML {
	for _, g := range groups {
		if g.CST != "" || g.CSOSN != "" {
			return g
		}
	}
	return taxGroupXML{}
}

// ParseNFe decodes an NF-e document, accepting both a bare <NFe> and a
// <nfeProc> envelope.
func ParseNFe(r io.Reader) (*Document, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read nfe: %w", err)
	}

	var inf infNFeXML
	var proc nfeProcXML
	if err := xml.Unmarshal(data, &proc); err == nil && proc.NFe.InfNFe.ID != "" {
		inf = proc.NFe.InfNFe
	} else {
		var bare nfeXML
		if err := xml.Unmarshal(data, &bare); err != nil {
			return nil, fmt.Errorf("decode nfe: %w", err)
		}
		inf = bare.InfNFe
	}
	if inf.ID == "" && len(inf.Det) == 0 {
		return nil, fmt.Errorf("decode nfe: no infNFe element found")
	}

	// CRT 1 and 2 are the Simples Nacional regimes.
	sn := inf.Emit.CRT == "1" || inf.Emit.CRT == "2"
	doc := &Document{
		AccessKey:       strings.TrimPrefix(inf.ID, "NFe"),
		IssuerCNPJ:      inf.Emit.CNPJ,
		RecipientCNPJ:   inf.Dest.CNPJ,
		Operation:       inf.Ide.NatOp,
		IssuedAt:        inf.Ide.DhEmi,
		SimplesNacional: sn,
		Totals: TotalInput{
			Declared:      inf.Total.ICMSTot.VNF,
			Products:      inf.Total.ICMSTot.VProd,
			IPI:           inf.Total.ICMSTot.VIPI,
			ICMSST:        inf.Total.ICMSTot.VST,
			OtherExpenses: inf.Total.ICMSTot.VOutro,
			Discounts:     inf.Total.ICMSTot.VDesc,
		},
	}

	for _, d := range inf.Det {
		icms := firstGroup(d.Imposto.ICMS.Groups)
		ipi := firstGroup(d.Imposto.IPI.Groups)
		pis := firstGroup(d.Imposto.PIS.Groups)
		cofins := firstGroup(d.Imposto.COFINS.Groups)

		cst := icms.CST
		if cst == "" {
			cst = icms.CSOSN
		}
		// NF-e rates are percentages; the rules work with decimal rates.
		doc.Items = append(doc.Items, Item{
			Number:      d.NItem,
			Description: d.Prod.XProd,
			NCM:         d.Prod.NCM,
			CFOP:        d.Prod.CFOP,
			ICMS: ICMSInput{
				ItemID:          d.NItem,
				CST:             cst,
				VProd:           d.Prod.VProd,
				VBC:             icms.VBC,
				PICMS:           icms.PICMS / 100,
				VICMS:           icms.VICMS,
				SimplesNacional: sn,
			},
			Federal: FederalInput{
				ItemID:          d.NItem,
				SimplesNacional: sn,
				CSTIPI:          ipi.CST,
				VBCIPI:          ipi.VBC,
				PIPI:            ipi.PIPI / 100,
				VIPI:            ipi.VIPI,
				CSTPIS:          pis.CST,
				VBCPIS:          pis.VBC,
				PPIS:            pis.PPIS / 100,
				VPIS:            pis.VPIS,
				CSTCOFINS:       cofins.CST,
				VBCCOFINS:       cofins.VBC,
				PCOFINS:         cofins.PCOFINS / 100,
				VCOFINS:         cofins.VCOFINS,
			},
		})
	}
	return doc, nil
}

// SetSimplesNacional overrides the tax regime read from the issuer's CRT.
func (d *Document) SetSimplesNacional(sn bool) {
	d.SimplesNacional = sn
	for i := range d.Items {
		d.Items[i].ICMS.SimplesNacional = sn
		d.Items[i].Federal.SimplesNacional = sn
	}
}

// ItemReport groups the verdicts for one item.
type ItemReport struct {
	Number  int           `json:"n_item"`
	ICMS    ICMSResult    `json:"icms"`
	Federal FederalResult `json:"federal"`
}

// Report is the full audit of a document.
type Report struct {
	AccessKey string       `json:"access_key"`
	Header    HeaderResult `json:"header"`
	Items     []ItemReport `json:"items"`
	Total     TotalResult  `json:"total"`
	Compliant bool         `json:"compliant"`
}

// Audit runs every rule over a parsed document.
func Audit(doc *Document) Report {
	rep := Report{
		AccessKey: doc.AccessKey,
		Header:    ValidateHeader(doc.AccessKey, doc.IssuerCNPJ),
		Total:     ValidateTotal(doc.Totals),
		Items:     make([]ItemReport, 0, len(doc.Items)),
	}
	compliant := rep.Header.Valid && rep.Total.Status == TotalCompliant
	for _, it := range doc.Items {
		ir := ItemReport{
			Number:  it.Number,
			ICMS:    ValidateICMS(it.ICMS),
			Federal: ValidateFederal(it.Federal),
		}
		switch ir.ICMS.Status {
		case ICMSValid, ICMSExemptSNCompliant:
		default:
			compliant = false
		}
		if ir.Federal.Status != FederalCompliant {
			compliant = false
		}
		rep.Items = append(rep.Items, ir)
	}
	rep.Compliant = compliant
	return rep
}
