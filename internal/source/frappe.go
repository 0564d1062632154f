package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Data-Analyst4/tally-connect/internal/domain"
	"github.com/Data-Analyst4/tally-connect/internal/pkg/logger"
)

// FrappeClient reads documents through the Frappe REST API.
type FrappeClient struct {
	baseURL    string
	apiKey     string
	apiSecret  string
	httpClient *http.Client
	timeout    time.Duration
}

// NewFrappeClient creates a new FrappeClient.
func NewFrappeClient(baseURL, apiKey, apiSecret string, timeout time.Duration, httpClient *http.Client) *FrappeClient {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &FrappeClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		apiSecret:  apiSecret,
		httpClient: httpClient,
		timeout:    timeout,
	}
}

// frappeDocument is the union of the fields read from the supported doctypes.
type frappeDocument struct {
	Name        string          `json:"name"`
	Company     string          `json:"company"`
	Modified    string          `json:"modified"`
	PostingDate string          `json:"posting_date"`
	Customer    string          `json:"customer"`
	Supplier    string          `json:"supplier"`
	Party       string          `json:"party"`
	PartyType   string          `json:"party_type"`
	Territory   string          `json:"territory"`
	GSTIN       string          `json:"billing_address_gstin"`
	PartyGSTIN  string          `json:"supplier_gstin"`
	GSTCategory string          `json:"gst_category"`
	GrandTotal  decimal.Decimal `json:"grand_total"`
	Currency    string          `json:"currency"`
	PaidFrom    string          `json:"paid_from"`
	PaidTo      string          `json:"paid_to"`
	PaidAmount  decimal.Decimal `json:"paid_amount"`
	CostCenter  string          `json:"cost_center"`

	Items []struct {
		ItemCode       string          `json:"item_code"`
		ItemName       string          `json:"item_name"`
		ItemGroup      string          `json:"item_group"`
		StockUOM       string          `json:"stock_uom"`
		HSNCode        string          `json:"gst_hsn_code"`
		Warehouse      string          `json:"warehouse"`
		CostCenter     string          `json:"cost_center"`
		IncomeAccount  string          `json:"income_account"`
		ExpenseAccount string          `json:"expense_account"`
		Qty            decimal.Decimal `json:"qty"`
		Rate           decimal.Decimal `json:"rate"`
		Amount         decimal.Decimal `json:"amount"`
	} `json:"items"`

	Taxes []struct {
		AccountHead string          `json:"account_head"`
		CostCenter  string          `json:"cost_center"`
		Rate        decimal.Decimal `json:"rate"`
		TaxAmount   decimal.Decimal `json:"tax_amount"`
	} `json:"taxes"`

	Accounts []struct {
		Account     string          `json:"account"`
		AccountType string          `json:"account_type"`
		CostCenter  string          `json:"cost_center"`
		Debit       decimal.Decimal `json:"debit_in_account_currency"`
		Credit      decimal.Decimal `json:"credit_in_account_currency"`
	} `json:"accounts"`
}

// Fetch implements Documents.
func (c *FrappeClient) Fetch(ctx context.Context, ref domain.DocumentRef) (domain.TransactionDocument, error) {
	var raw frappeDocument
	if err := c.getResource(ctx, ref.Doctype, ref.Name, &raw); err != nil {
		return domain.TransactionDocument{}, err
	}

	doc := toTransactionDocument(ref, raw)
	if doc.Party != "" && (domain.IsSalesDoctype(ref.Doctype) || domain.IsPurchaseDoctype(ref.Doctype)) {
		partyDoctype := "Customer"
		if domain.IsPurchaseDoctype(ref.Doctype) {
			partyDoctype = "Supplier"
		}
		group, err := c.partyParentGroup(ctx, partyDoctype, doc.Party, doc.Company)
		if err != nil {
			// the type default applies
			logger.Warn("Party parent group lookup failed",
				logger.Document(ref.Doctype, ref.Name),
				zap.String("party", doc.Party),
				zap.Error(err),
			)
		}
		doc.PartyParentGroup = group
	}
	return doc, nil
}

func toTransactionDocument(ref domain.DocumentRef, raw frappeDocument) domain.TransactionDocument {
	doc := domain.TransactionDocument{
		Doctype:     ref.Doctype,
		Name:        raw.Name,
		Company:     raw.Company,
		Modified:    parseFrappeTime(raw.Modified),
		PostingDate: parseFrappeTime(raw.PostingDate),
		Territory:   raw.Territory,
		GSTCategory: raw.GSTCategory,
		GrandTotal:  raw.GrandTotal,
		Currency:    raw.Currency,
	}
	if doc.Name == "" {
		doc.Name = ref.Name
	}

	switch {
	case domain.IsSalesDoctype(ref.Doctype):
		doc.Party, doc.PartyType, doc.GSTIN = raw.Customer, "Customer", raw.GSTIN
	case domain.IsPurchaseDoctype(ref.Doctype):
		doc.Party, doc.PartyType, doc.GSTIN = raw.Supplier, "Supplier", raw.PartyGSTIN
	default:
		doc.Party, doc.PartyType = raw.Party, raw.PartyType
	}

	for _, it := range raw.Items {
		account := it.IncomeAccount
		if domain.IsPurchaseDoctype(ref.Doctype) {
			account = it.ExpenseAccount
		}
		doc.Items = append(doc.Items, domain.DocumentItem{
			ItemCode:   it.ItemCode,
			ItemName:   it.ItemName,
			ItemGroup:  it.ItemGroup,
			StockUOM:   it.StockUOM,
			HSNCode:    it.HSNCode,
			Warehouse:  it.Warehouse,
			CostCenter: it.CostCenter,
			Account:    account,
			Qty:        it.Qty,
			Rate:       it.Rate,
			Amount:     it.Amount,
		})
	}
	for _, tx := range raw.Taxes {
		doc.Taxes = append(doc.Taxes, domain.TaxLine{
			AccountHead: tx.AccountHead,
			CostCenter:  tx.CostCenter,
			Rate:        tx.Rate,
			Amount:      tx.TaxAmount,
		})
	}
	for _, a := range raw.Accounts {
		doc.Accounts = append(doc.Accounts, domain.AccountLine{
			Account:     a.Account,
			AccountType: a.AccountType,
			CostCenter:  a.CostCenter,
			Debit:       a.Debit,
			Credit:      a.Credit,
		})
	}

	// payment entries carry their two accounts as header fields
	if ref.Doctype == domain.DoctypePaymentEntry && len(doc.Accounts) == 0 && raw.PaidFrom != "" && raw.PaidTo != "" {
		doc.Accounts = []domain.AccountLine{
			{Account: raw.PaidTo, CostCenter: raw.CostCenter, Debit: raw.PaidAmount},
			{Account: raw.PaidFrom, CostCenter: raw.CostCenter, Credit: raw.PaidAmount},
		}
		if doc.GrandTotal.IsZero() {
			doc.GrandTotal = raw.PaidAmount
		}
	}
	return doc
}

// partyParentGroup resolves the group of the party's receivable or payable
// account in company: party -> account -> parent account name. An empty
// result means no account is configured.
func (c *FrappeClient) partyParentGroup(ctx context.Context, doctype, party, company string) (string, error) {
	var p struct {
		Accounts []struct {
			Company string `json:"company"`
			Account string `json:"account"`
		} `json:"accounts"`
	}
	if err := c.getResource(ctx, doctype, party, &p); err != nil {
		return "", err
	}

	var account string
	for _, a := range p.Accounts {
		if a.Company == company && a.Account != "" {
			account = a.Account
			break
		}
	}
	if account == "" {
		return "", nil
	}

	var acc struct {
		AccountName   string `json:"account_name"`
		ParentAccount string `json:"parent_account"`
	}
	if err := c.getResource(ctx, "Account", account, &acc); err != nil {
		return "", err
	}
	if acc.ParentAccount == "" {
		return acc.AccountName, nil
	}

	var parent struct {
		AccountName string `json:"account_name"`
	}
	if err := c.getResource(ctx, "Account", acc.ParentAccount, &parent); err != nil {
		return "", err
	}
	return parent.AccountName, nil
}

func (c *FrappeClient) getResource(ctx context.Context, doctype, name string, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	u := fmt.Sprintf("%s/api/resource/%s/%s", c.baseURL, url.PathEscape(doctype), url.PathEscape(name))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "token "+c.apiKey+":"+c.apiSecret)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("get %s/%s: %w", doctype, name, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%s/%s: %w", doctype, name, ErrDocumentNotFound)
	case resp.StatusCode != http.StatusOK:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("get %s/%s: HTTP %d: %s", doctype, name, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("decode %s/%s: %w", doctype, name, err)
	}
	if len(envelope.Data) == 0 {
		return fmt.Errorf("%s/%s: empty data: %w", doctype, name, ErrDocumentNotFound)
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("decode %s/%s: %w", doctype, name, err)
	}
	return nil
}

var frappeTimeLayouts = []string{
	"2006-01-02 15:04:05.999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
	time.RFC3339Nano,
}

func parseFrappeTime(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range frappeTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
