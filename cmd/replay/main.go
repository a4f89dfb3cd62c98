package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"print_upload/internal/webhook"
)

// Result 记录单次请求的 HTTP 结果，便于聚合统计。
type Result struct {
	Status int
	Body   string
	Err    error
}

// 重放同一个签名 webhook N 次（并发），用于验证关联与佣金的幂等性：
// 无论重放多少次，订单都只应有一条 OrderLink 与一条 Commission。
func main() {
	baseURL := flag.String("base", "http://localhost:8080", "server base url")
	domain := flag.String("domain", "demo.myshop.test", "shop domain (X-Shop-Domain)")
	secret := flag.String("secret", "", "shop webhook secret")
	topic := flag.String("topic", "orders/create", "orders/create | orders/cancelled | app/uninstalled")
	bodyFile := flag.String("body", "", "order JSON file; empty builds a sample order")
	orderID := flag.String("order", "1001", "order id for the sample order")
	uploadID := flag.String("upload", "", "upload id placed on the first line item")
	productID := flag.String("product", "", "product id of the sample line items")
	n := flag.Int("n", 20, "deliveries")
	concurrency := flag.Int("c", 10, "max concurrency")
	badSig := flag.Bool("bad-signature", false, "send a wrong signature (expect 401)")
	flag.Parse()

	if *secret == "" {
		fmt.Fprintln(os.Stderr, "-secret is required")
		os.Exit(2)
	}

	body, err := loadBody(*bodyFile, *orderID, *uploadID, *productID)
	if err != nil {
		fmt.Fprintln(os.Stderr, "body:", err)
		os.Exit(2)
	}
	sig := webhook.Sign(body, *secret)
	if *badSig {
		sig = webhook.Sign(body, *secret+"x")
	}

	client := &http.Client{Timeout: 10 * time.Second}
	url := fmt.Sprintf("%s/webhooks/%s", *baseURL, *topic)

	fmt.Printf("replay %s: deliveries=%d concurrency=%d\n", *topic, *n, *concurrency)
	start := time.Now()
	results := replay(client, url, *domain, sig, body, *n, *concurrency)
	printSummary(*topic, results)
	fmt.Printf("elapsed: %s\n", time.Since(start).Round(time.Millisecond))
}

func loadBody(path, orderID, uploadID, productID string) ([]byte, error) {
	if path != "" {
		return os.ReadFile(path)
	}
	type prop struct {
		Name  string `json:"name"`
		Value string `json:"value"`
	}
	type lineItem struct {
		ID         string `json:"id"`
		ProductID  string `json:"product_id"`
		VariantID  string `json:"variant_id"`
		Quantity   int    `json:"quantity"`
		Properties []prop `json:"properties"`
	}
	first := lineItem{ID: orderID + "-1", ProductID: productID, VariantID: "v1", Quantity: 1}
	if uploadID != "" {
		first.Properties = []prop{{Name: webhook.DefaultUploadProperty, Value: uploadID}}
	}
	order := map[string]any{
		"id":          orderID,
		"name":        "#" + orderID,
		"email":       "buyer@example.com",
		"total_price": "42.00",
		"currency":    "USD",
		"line_items": []lineItem{
			first,
			// 第二行不带引用：商品开启上传时应生成幽灵记录
			{ID: orderID + "-2", ProductID: productID, VariantID: "v2", Quantity: 1},
		},
	}
	return json.Marshal(order)
}

func replay(client *http.Client, url, domain, sig string, body []byte, total, concurrency int) []Result {
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	results := make([]Result, total)

	for i := 0; i < total; i++ {
		wg.Add(1)
		sem <- struct{}{}
		go func(idx int) {
			defer wg.Done()
			defer func() { <-sem }()
			results[idx] = deliverOnce(client, url, domain, sig, body)
		}(i)
	}

	wg.Wait()
	return results
}

func deliverOnce(client *http.Client, url, domain, sig string, body []byte) Result {
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Result{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(webhook.HeaderHmac, sig)
	req.Header.Set(webhook.HeaderDomain, domain)

	resp, err := client.Do(req)
	if err != nil {
		return Result{Err: err}
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return Result{Status: resp.StatusCode, Body: string(b)}
}

// printSummary 聚合输出不同状态码分布。
func printSummary(name string, results []Result) {
	count := map[int]int{}
	errCount := 0
	var lastBody string
	for _, r := range results {
		if r.Err != nil {
			errCount++
			continue
		}
		count[r.Status]++
		lastBody = r.Body
	}
	fmt.Printf("[%s] http status summary:\n", name)
	for _, code := range []int{200, 400, 401, 404, 429, 500} {
		if count[code] > 0 {
			fmt.Printf("  %d -> %d\n", code, count[code])
		}
	}
	if errCount > 0 {
		fmt.Printf("  errors -> %d\n", errCount)
	}
	if lastBody != "" {
		fmt.Printf("  last body: %s\n", lastBody)
	}
}
