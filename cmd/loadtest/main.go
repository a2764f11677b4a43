package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"
	"time"
)

// Result 记录单次请求的 HTTP 结果，便于聚合统计。
type Result struct {
	Status     int
	LineItemID int64
	Body       string
	Err        error
}

type apiResp struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

func main() {
	baseURL := flag.String("base", "http://localhost:8080", "server base url")
	operator := flag.String("operator", "admin", "X-Operator header")
	orders := flag.Int("orders", 20, "orders to seed before the test (0 = none)")
	linesPerOrder := flag.Int("lines", 5, "line items per seeded order")

	// 重复领取测试：并发请求数大于任务数，确认每个任务只被领取一次
	total := flag.Int("n", 200, "dispatch requests")
	concurrency := flag.Int("c", 50, "max concurrency")
	flag.Parse()

	client := &http.Client{Timeout: 10 * time.Second}

	for i := 0; i < *orders; i++ {
		if err := seedOrder(client, *baseURL, *operator, i, *linesPerOrder); err != nil {
			panic(fmt.Sprintf("seed order failed: %v", err))
		}
	}
	if *orders > 0 {
		fmt.Printf("seeded %d orders x %d lines\n", *orders, *linesPerOrder)
	}

	fmt.Printf("start claim test: requests=%d concurrency=%d\n", *total, *concurrency)
	start := time.Now()
	results := runDispatch(client, *baseURL, *operator, *total, *concurrency)
	fmt.Printf("done in %s\n", time.Since(start).Round(time.Millisecond))

	printSummary("dispatch", results)
	dups := duplicates(results)
	if len(dups) > 0 {
		fmt.Printf("DUPLICATE CLAIMS: %v\n", dups)
		return
	}
	fmt.Println("no duplicate claims")
}

func seedOrder(client *http.Client, baseURL, operator string, idx, lines int) error {
	classes := []string{"RED", "BLUE", "GREEN"}
	type line struct {
		ItemClass string `json:"item_class"`
		TargetBin string `json:"target_bin"`
		Quantity  int    `json:"quantity"`
		Priority  int    `json:"priority"`
	}
	body := struct {
		Lines []line `json:"lines"`
	}{}
	for i := 0; i < lines; i++ {
		body.Lines = append(body.Lines, line{
			ItemClass: classes[(idx+i)%len(classes)],
			TargetBin: "LOADTEST",
			Quantity:  1,
			Priority:  i % 3,
		})
	}
	_, err := doPOST(client, baseURL+"/api/orders", operator, body)
	return err
}

func runDispatch(client *http.Client, baseURL, operator string, total, concurrency int) []Result {
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	results := make([]Result, total)

	for i := 0; i < total; i++ {
		wg.Add(1)
		sem <- struct{}{}
		go func(idx int) {
			defer wg.Done()
			defer func() { <-sem }()
			results[idx] = dispatchOnce(client, baseURL, operator)
		}(i)
	}

	wg.Wait()
	return results
}

func dispatchOnce(client *http.Client, baseURL, operator string) Result {
	req, _ := http.NewRequest(http.MethodPost, baseURL+"/api/jobs/dispatch", nil)
	req.Header.Set("X-Operator", operator)
	resp, err := client.Do(req)
	if err != nil {
		return Result{Err: err}
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	r := Result{Status: resp.StatusCode, Body: string(body)}

	// 失败的 dispatch 也带回 cycle（任务已被领取并标记 Failed），同样计入。
	var out apiResp
	if json.Unmarshal(body, &out) == nil && len(out.Data) > 0 && string(out.Data) != "null" {
		var cycle struct {
			Job struct {
				LineItemID int64 `json:"line_item_id"`
			} `json:"job"`
		}
		if json.Unmarshal(out.Data, &cycle) == nil {
			r.LineItemID = cycle.Job.LineItemID
		}
	}
	return r
}

// duplicates 返回被领取超过一次的 line item。
func duplicates(results []Result) []int64 {
	seen := map[int64]int{}
	for _, r := range results {
		if r.LineItemID > 0 {
			seen[r.LineItemID]++
		}
	}
	var out []int64
	for id, n := range seen {
		if n > 1 {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// printSummary 聚合输出不同状态码分布。
func printSummary(name string, results []Result) {
	count := map[int]int{}
	errCount, claimed := 0, 0
	for _, r := range results {
		if r.Err != nil {
			errCount++
			continue
		}
		count[r.Status]++
		if r.LineItemID > 0 {
			claimed++
		}
	}
	fmt.Printf("[%s] http status summary:\n", name)
	for _, code := range []int{200, 400, 404, 409, 429, 500, 502, 504} {
		if count[code] > 0 {
			fmt.Printf("  %d -> %d\n", code, count[code])
		}
	}
	if errCount > 0 {
		fmt.Printf("  errors -> %d\n", errCount)
	}
	fmt.Printf("  claimed jobs -> %d\n", claimed)
}

// doPOST 发送 JSON POST 请求。
func doPOST(client *http.Client, url, operator string, body any) (apiResp, error) {
	b, _ := json.Marshal(body)
	req, _ := http.NewRequest(http.MethodPost, url, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Operator", operator)
	resp, err := client.Do(req)
	if err != nil {
		return apiResp{}, err
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return apiResp{}, fmt.Errorf("status=%d body=%s", resp.StatusCode, string(raw))
	}
	var out apiResp
	if err := json.Unmarshal(raw, &out); err != nil {
		return apiResp{}, err
	}
	return out, nil
}
