package webhook

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"print_upload/internal/model"

	"github.com/shopspring/decimal"
)

// ID 平台 ID 既可能是数字也可能是字符串（gid://...），统一成字符串。
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id: %w", err)
	}
	*id = ID(n.String())
	return nil
}

func (id ID) String() string { return string(id) }

// Property 购物车行上的自定义属性。
type Property struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

// Properties 兼容 [{name,value}] 与 {name: value} 两种写法。
type Properties []Property

func (p *Properties) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*p = nil
		return nil
	}
	if b[0] == '{' {
		var m map[string]any
		if err := json.Unmarshal(b, &m); err != nil {
			return err
		}
		out := make(Properties, 0, len(m))
		for k, v := range m {
			out = append(out, Property{Name: k, Value: v})
		}
		*p = out
		return nil
	}
	var list []Property
	if err := json.Unmarshal(b, &list); err != nil {
		return err
	}
	*p = list
	return nil
}

// Get 按名称取属性值，不存在或为空返回 ""。
func (p Properties) Get(name string) string {
	for _, prop := range p {
		if prop.Name != name || prop.Value == nil {
			continue
		}
		return strings.TrimSpace(fmt.Sprint(prop.Value))
	}
	return ""
}

type LineItem struct {
	ID         ID         `json:"id"`
	ProductID  ID         `json:"product_id"`
	VariantID  ID         `json:"variant_id"`
	Title      string     `json:"title"`
	Quantity   int        `json:"quantity"`
	Properties Properties `json:"properties"`
}

type Customer struct {
	ID    ID     `json:"id"`
	Email string `json:"email"`
}

// Order 订单 webhook 中用到的字段。
type Order struct {
	ID         ID              `json:"id"`
	Name       string          `json:"name"`
	Email      string          `json:"email"`
	TotalPrice decimal.Decimal `json:"total_price"`
	Currency   string          `json:"currency"`
	Customer   *Customer       `json:"customer"`
	LineItems  []LineItem      `json:"line_items"`
}

// CustomerID 与 CustomerEmail 兼容顶层 email。
func (o Order) CustomerID() string {
	if o.Customer == nil {
		return ""
	}
	return o.Customer.ID.String()
}

func (o Order) CustomerEmail() string {
	if o.Customer != nil && o.Customer.Email != "" {
		return o.Customer.Email
	}
	return o.Email
}

// ParseOrder 只在签名校验通过之后调用。
func ParseOrder(body []byte) (*Order, error) {
	var o Order
	if err := json.Unmarshal(body, &o); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrMalformedPayload, err)
	}
	if o.ID == "" {
		return nil, fmt.Errorf("%w: order id missing", model.ErrMalformedPayload)
	}
	return &o, nil
}
