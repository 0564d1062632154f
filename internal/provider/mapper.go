package provider

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/Data-Analyst4/tally-connect/internal/domain"
)

// TallyMapper maps domain payloads to Tally XML envelopes and parses
// Tally responses. It holds no state.
type TallyMapper struct{}

// NewTallyMapper creates a new TallyMapper.
func NewTallyMapper() *TallyMapper {
	return &TallyMapper{}
}

type envelopeHeader struct {
	Version      int    `xml:"VERSION,omitempty"`
	TallyRequest string `xml:"TALLYREQUEST"`
	Type         string `xml:"TYPE,omitempty"`
	ID           string `xml:"ID,omitempty"`
}

type staticVariables struct {
	ExportFormat   string `xml:"SVEXPORTFORMAT,omitempty"`
	CurrentCompany string `xml:"SVCURRENTCOMPANY,omitempty"`
}

// Master import: Import / Data / All Masters.

type masterEnvelope struct {
	XMLName xml.Name       `xml:"ENVELOPE"`
	Header  envelopeHeader `xml:"HEADER"`
	Body    struct {
		Desc struct {
			StaticVariables staticVariables `xml:"STATICVARIABLES"`
		} `xml:"DESC"`
		Data struct {
			Message masterMessage `xml:"TALLYMESSAGE"`
		} `xml:"DATA"`
	} `xml:"BODY"`
}

type masterMessage struct {
	Ledger     *ledgerXML     `xml:"LEDGER"`
	Group      *namedXML      `xml:"GROUP"`
	CostCentre *costCentreXML `xml:"COSTCENTRE"`
	StockItem  *stockItemXML  `xml:"STOCKITEM"`
	StockGroup *namedXML      `xml:"STOCKGROUP"`
	Unit       *unitXML       `xml:"UNIT"`
	Godown     *namedXML      `xml:"GODOWN"`
}

type namedXML struct {
	NameAttr string `xml:"NAME,attr"`
	Action   string `xml:"ACTION,attr"`
	Name     string `xml:"NAME"`
	Parent   string `xml:"PARENT,omitempty"`
}

type ledgerXML struct {
	namedXML
	IsBillWiseOn        string `xml:"ISBILLWISEON,omitempty"`
	PartyGSTIN          string `xml:"PARTYGSTIN,omitempty"`
	GSTRegistrationType string `xml:"GSTREGISTRATIONTYPE,omitempty"`
	LedgerState         string `xml:"LEDSTATENAME,omitempty"`
}

type costCentreXML struct {
	namedXML
	Category string `xml:"CATEGORY"`
}

type stockItemXML struct {
	namedXML
	BaseUnits     string           `xml:"BASEUNITS,omitempty"`
	GSTApplicable string           `xml:"GSTAPPLICABLE,omitempty"`
	HSNCode       string           `xml:"HSNCODE,omitempty"`
	LanguageName  *languageNameXML `xml:"LANGUAGENAME.LIST"`
}

type languageNameXML struct {
	Names struct {
		Type  string   `xml:"TYPE,attr"`
		Names []string `xml:"NAME"`
	} `xml:"NAME.LIST"`
	LanguageID int `xml:"LANGUAGEID"`
}

type unitXML struct {
	NameAttr     string `xml:"NAME,attr"`
	Action       string `xml:"ACTION,attr"`
	Name         string `xml:"NAME"`
	IsSimpleUnit string `xml:"ISSIMPLEUNIT"`
}

// MasterEnvelope renders the import envelope for one master. Duplicates are
// not ignored, so an existing master comes back as an error line.
func (m *TallyMapper) MasterEnvelope(company string, p domain.CreationPayload) ([]byte, error) {
	if strings.TrimSpace(p.Name) == "" {
		return nil, fmt.Errorf("mapper: master name is empty")
	}

	env := masterEnvelope{
		Header: envelopeHeader{Version: 1, TallyRequest: "Import", Type: "Data", ID: "All Masters"},
	}
	env.Body.Desc.StaticVariables.CurrentCompany = company

	named := namedXML{NameAttr: p.Name, Action: "Create", Name: p.Name, Parent: p.ParentGroup}
	msg := &env.Body.Data.Message

	switch p.MasterType {
	case domain.MasterCustomer, domain.MasterSupplier, domain.MasterLedger:
		l := &ledgerXML{namedXML: named}
		if p.MasterType.IsParty() {
			l.IsBillWiseOn = "Yes"
			l.PartyGSTIN = p.Fields.GSTIN
			l.GSTRegistrationType = gstRegistrationType(p.Fields.GSTCategory, p.Fields.GSTIN)
			l.LedgerState = p.Fields.Territory
		}
		msg.Ledger = l
	case domain.MasterGroup:
		msg.Group = &named
	case domain.MasterCostCentre:
		msg.CostCentre = &costCentreXML{namedXML: named, Category: "Primary Cost Category"}
	case domain.MasterItem:
		item := &stockItemXML{
			namedXML:      named,
			BaseUnits:     p.Fields.StockUOM,
			GSTApplicable: "Applicable",
			HSNCode:       p.Fields.HSNCode,
		}
		if p.Fields.ItemCode != "" && p.Fields.ItemCode != p.Name {
			ln := &languageNameXML{LanguageID: 1033}
			ln.Names.Type = "String"
			ln.Names.Names = []string{p.Name, p.Fields.ItemCode}
			item.LanguageName = ln
		}
		msg.StockItem = item
	case domain.MasterStockGroup:
		msg.StockGroup = &named
	case domain.MasterUnit:
		msg.Unit = &unitXML{NameAttr: p.Name, Action: "Create", Name: p.Name, IsSimpleUnit: "Yes"}
	case domain.MasterGodown:
		msg.Godown = &named
	default:
		return nil, fmt.Errorf("mapper: unsupported master type %q", p.MasterType)
	}

	return marshalEnvelope(env)
}

func gstRegistrationType(category, gstin string) string {
	switch {
	case category != "":
		return category
	case gstin != "":
		return "Regular"
	default:
		return "Unregistered/Consumer"
	}
}

// Voucher import: Import Data / Vouchers.

type voucherEnvelope struct {
	XMLName xml.Name       `xml:"ENVELOPE"`
	Header  envelopeHeader `xml:"HEADER"`
	Body    struct {
		ImportData struct {
			RequestDesc struct {
				ReportName      string          `xml:"REPORTNAME"`
				StaticVariables staticVariables `xml:"STATICVARIABLES"`
			} `xml:"REQUESTDESC"`
			RequestData struct {
				Message struct {
					Voucher voucherXML `xml:"VOUCHER"`
				} `xml:"TALLYMESSAGE"`
			} `xml:"REQUESTDATA"`
		} `xml:"IMPORTDATA"`
	} `xml:"BODY"`
}

type voucherXML struct {
	VchType         string         `xml:"VCHTYPE,attr"`
	Action          string         `xml:"ACTION,attr"`
	Date            string         `xml:"DATE"`
	VoucherTypeName string         `xml:"VOUCHERTYPENAME"`
	VoucherNumber   string         `xml:"VOUCHERNUMBER"`
	PartyLedgerName string         `xml:"PARTYLEDGERNAME,omitempty"`
	Narration       string         `xml:"NARRATION,omitempty"`
	IsInvoice       string         `xml:"ISINVOICE,omitempty"`
	Inventory       []inventoryXML `xml:"ALLINVENTORYENTRIES.LIST"`
	Ledgers         []ledgerLine   `xml:"LEDGERENTRIES.LIST"`
}

type inventoryXML struct {
	StockItemName    string       `xml:"STOCKITEMNAME"`
	IsDeemedPositive string       `xml:"ISDEEMEDPOSITIVE"`
	Rate             string       `xml:"RATE"`
	Amount           string       `xml:"AMOUNT"`
	ActualQty        string       `xml:"ACTUALQTY"`
	BilledQty        string       `xml:"BILLEDQTY"`
	Batches          []batchXML   `xml:"BATCHALLOCATIONS.LIST"`
	Accounting       []ledgerLine `xml:"ACCOUNTINGALLOCATIONS.LIST"`
}

type batchXML struct {
	GodownName string `xml:"GODOWNNAME"`
	Amount     string `xml:"AMOUNT"`
	ActualQty  string `xml:"ACTUALQTY"`
	BilledQty  string `xml:"BILLEDQTY"`
}

type ledgerLine struct {
	LedgerName       string `xml:"LEDGERNAME"`
	IsDeemedPositive string `xml:"ISDEEMEDPOSITIVE"`
	IsPartyLedger    string `xml:"ISPARTYLEDGER,omitempty"`
	Amount           string `xml:"AMOUNT"`
}

// VoucherEnvelope renders the import envelope for one voucher.
func (m *TallyMapper) VoucherEnvelope(company string, v Voucher) ([]byte, error) {
	if v.Type == "" || v.Number == "" {
		return nil, fmt.Errorf("mapper: voucher type and number are required")
	}
	if len(v.Entries) == 0 && len(v.Inventory) == 0 {
		return nil, fmt.Errorf("mapper: voucher %s has no entries", v.Number)
	}

	env := voucherEnvelope{Header: envelopeHeader{TallyRequest: "Import Data"}}
	env.Body.ImportData.RequestDesc.ReportName = "Vouchers"
	env.Body.ImportData.RequestDesc.StaticVariables.CurrentCompany = company

	vx := voucherXML{
		VchType:         v.Type,
		Action:          "Create",
		Date:            v.Date.Format("20060102"),
		VoucherTypeName: v.Type,
		VoucherNumber:   v.Number,
		PartyLedgerName: v.Party,
		Narration:       v.Narration,
	}
	if len(v.Inventory) > 0 {
		vx.IsInvoice = "Yes"
	}

	for _, inv := range v.Inventory {
		amount := inv.Amount
		if inv.Inward {
			amount = amount.Neg()
		}
		qty := formatQty(inv.Qty, inv.Unit)
		ix := inventoryXML{
			StockItemName:    inv.StockItem,
			IsDeemedPositive: yesNo(inv.Inward),
			Rate:             formatRate(inv.Rate, inv.Unit),
			Amount:           formatAmount(amount),
			ActualQty:        qty,
			BilledQty:        qty,
		}
		if inv.Godown != "" {
			ix.Batches = []batchXML{{GodownName: inv.Godown, Amount: formatAmount(amount), ActualQty: qty, BilledQty: qty}}
		}
		if inv.Ledger != "" {
			ix.Accounting = []ledgerLine{{LedgerName: inv.Ledger, IsDeemedPositive: yesNo(inv.Inward), Amount: formatAmount(amount)}}
		}
		vx.Inventory = append(vx.Inventory, ix)
	}

	for _, e := range v.Entries {
		amount := e.Amount
		if e.Debit {
			amount = amount.Neg()
		}
		vx.Ledgers = append(vx.Ledgers, ledgerLine{
			LedgerName:       e.Ledger,
			IsDeemedPositive: yesNo(e.Debit),
			IsPartyLedger:    yesNo(e.IsParty),
			Amount:           formatAmount(amount),
		})
	}
	env.Body.ImportData.RequestData.Message.Voucher = vx

	return marshalEnvelope(env)
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}

func formatAmount(d decimal.Decimal) string {
	return d.StringFixed(2)
}

func formatQty(q decimal.Decimal, unit string) string {
	s := q.String()
	if unit != "" {
		s += " " + unit
	}
	return s
}

func formatRate(r decimal.Decimal, unit string) string {
	s := r.StringFixed(2)
	if unit != "" {
		s += "/" + unit
	}
	return s
}

// Collection export.

type exportEnvelope struct {
	XMLName xml.Name       `xml:"ENVELOPE"`
	Header  envelopeHeader `xml:"HEADER"`
	Body    struct {
		Desc struct {
			StaticVariables staticVariables `xml:"STATICVARIABLES"`
			TDL             struct {
				Message struct {
					Collection struct {
						Name  string `xml:"NAME,attr"`
						Type  string `xml:"TYPE"`
						Fetch string `xml:"FETCH"`
					} `xml:"COLLECTION"`
				} `xml:"TDLMESSAGE"`
			} `xml:"TDL"`
		} `xml:"DESC"`
	} `xml:"BODY"`
}

// ExportEnvelope renders a collection export request listing every master
// of kind by name.
func (m *TallyMapper) ExportEnvelope(company string, kind domain.CatalogKind) ([]byte, error) {
	if kind == "" {
		return nil, fmt.Errorf("mapper: catalog kind is empty")
	}
	env := exportEnvelope{
		Header: envelopeHeader{Version: 1, TallyRequest: "Export", Type: "Collection", ID: string(kind)},
	}
	env.Body.Desc.StaticVariables.ExportFormat = "$$SysName:XML"
	env.Body.Desc.StaticVariables.CurrentCompany = company
	c := &env.Body.Desc.TDL.Message.Collection
	c.Name = string(kind)
	c.Type = string(kind)
	c.Fetch = "NAME"
	return marshalEnvelope(env)
}

func marshalEnvelope(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	if err := xml.NewEncoder(&buf).Encode(v); err != nil {
		return nil, fmt.Errorf("mapper: encode envelope: %w", err)
	}
	return buf.Bytes(), nil
}

// ImportResponse holds the counters Tally reports after an import.
type ImportResponse struct {
	Created       int
	Altered       int
	Ignored       int
	Errors        int
	Exceptions    int
	LineErrors    []string
	VoucherNumber string
}

// Failed reports whether the import did not take effect.
func (r ImportResponse) Failed() bool {
	return r.Errors > 0 || r.Exceptions > 0 || len(r.LineErrors) > 0 ||
		(r.Created == 0 && r.Altered == 0)
}

// ErrorText joins the line errors.
func (r ImportResponse) ErrorText() string {
	if len(r.LineErrors) > 0 {
		return strings.Join(r.LineErrors, "; ")
	}
	if r.Errors > 0 || r.Exceptions > 0 {
		return fmt.Sprintf("import reported %d errors and %d exceptions", r.Errors, r.Exceptions)
	}
	if r.Ignored > 0 {
		return "import ignored: master already exists"
	}
	return "import created nothing"
}

// ParseImportResponse reads the import counters wherever they are nested.
func (m *TallyMapper) ParseImportResponse(body []byte) (ImportResponse, error) {
	var out ImportResponse
	err := walkElements(body, func(name string, _ []xml.Attr, text string) {
		switch name {
		case "CREATED":
			out.Created = atoi(text)
		case "ALTERED":
			out.Altered = atoi(text)
		case "IGNORED":
			out.Ignored = atoi(text)
		case "ERRORS":
			out.Errors = atoi(text)
		case "EXCEPTIONS":
			out.Exceptions = atoi(text)
		case "LINEERROR":
			if t := strings.TrimSpace(text); t != "" {
				out.LineErrors = append(out.LineErrors, t)
			}
		case "VOUCHERNUMBER":
			if out.VoucherNumber == "" {
				out.VoucherNumber = strings.TrimSpace(text)
			}
		}
	})
	if err != nil {
		return ImportResponse{}, fmt.Errorf("mapper: parse import response: %w", err)
	}
	return out, nil
}

// ParseCollection returns the NAME attribute of every element of kind in an
// export response, in document order without duplicates. A LINEERROR in the
// response is returned as an error.
func (m *TallyMapper) ParseCollection(body []byte, kind domain.CatalogKind) ([]string, error) {
	element := strings.ToUpper(string(kind))
	seen := make(map[string]struct{})
	var names []string
	var lineErr string

	err := walkElements(body, func(name string, attrs []xml.Attr, text string) {
		switch name {
		case "LINEERROR":
			lineErr = strings.TrimSpace(text)
		case element:
			for _, a := range attrs {
				if a.Name.Local != "NAME" {
					continue
				}
				n := strings.TrimSpace(a.Value)
				if n == "" {
					continue
				}
				if _, dup := seen[n]; !dup {
					seen[n] = struct{}{}
					names = append(names, n)
				}
			}
		}
	})
	if err != nil {
		return nil, fmt.Errorf("mapper: parse collection: %w", err)
	}
	if lineErr != "" {
		return nil, fmt.Errorf("mapper: export %s: %s", kind, lineErr)
	}
	return names, nil
}

// walkElements calls fn for every element with its attributes and direct
// character data.
func walkElements(body []byte, fn func(name string, attrs []xml.Attr, text string)) error {
	type frame struct {
		name  string
		attrs []xml.Attr
		text  strings.Builder
	}
	dec := xml.NewDecoder(bytes.NewReader(body))
	dec.Strict = false
	var stack []*frame
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			stack = append(stack, &frame{name: t.Name.Local, attrs: t.Copy().Attr})
		case xml.CharData:
			if len(stack) > 0 {
				stack[len(stack)-1].text.Write(t)
			}
		case xml.EndElement:
			if len(stack) == 0 {
				continue
			}
			f := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			fn(f.name, f.attrs, f.text.String())
		}
	}
}

func atoi(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return n
}
