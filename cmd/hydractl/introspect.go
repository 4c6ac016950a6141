package hydractl

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

var httpClient = &http.Client{Timeout: 5 * time.Second}

func getJSON(path string, out any) error {
	req, err := http.NewRequest(http.MethodGet, apiAddr+path, nil)
	if err != nil {
		return err
	}
	if apiToken != "" {
		req.Header.Set("Authorization", "Bearer "+apiToken)
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s: %s: %s", path, resp.Status, string(body))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Show the health reports of a running instance's service",
	RunE: func(cmd *cobra.Command, args []string) error {
		var body struct {
			ServiceName string `json:"serviceName"`
			InstanceID  string `json:"instanceID"`
			Reports     []struct {
				InstanceID string `json:"instanceID"`
				Status     int    `json:"status"`
			} `json:"reports"`
		}
		if err := getJSON("/health", &body); err != nil {
			return err
		}

		s := newStyles()
		fmt.Println(s.Header.Render(fmt.Sprintf("health: %s (asked via %s)", body.ServiceName, body.InstanceID)))
		for _, r := range body.Reports {
			style := s.OK
			label := "ok"
			switch r.Status {
			case 1:
				style, label = s.Warn, "warning"
			case 2:
				style, label = s.Err, "critical"
			}
			fmt.Printf("  %s  %s\n", r.InstanceID, style.Render(label))
		}
		return nil
	},
}

var routesCmd = &cobra.Command{
	Use:   "routes",
	Short: "List the services currently registered on the mesh",
	RunE: func(cmd *cobra.Command, args []string) error {
		var body struct {
			Nodes []struct {
				ServiceName string `json:"serviceName"`
				InstanceID  string `json:"instanceID"`
				IP          string `json:"ip"`
				Port        int    `json:"port"`
			} `json:"nodes"`
		}
		if err := getJSON("/routes", &body); err != nil {
			return err
		}

		s := newStyles()
		fmt.Println(s.Header.Render("registered instances"))
		for _, n := range body.Nodes {
			fmt.Printf("  %-20s %-36s %s:%d\n", n.ServiceName, n.InstanceID, n.IP, n.Port)
		}
		return nil
	},
}

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Drain the buffered dispatch metric events of a running instance",
	RunE: func(cmd *cobra.Command, args []string) error {
		var body struct {
			Metrics []string `json:"metrics"`
		}
		if err := getJSON("/metrics", &body); err != nil {
			return err
		}

		s := newStyles()
		fmt.Println(s.Header.Render("buffered metrics"))
		if len(body.Metrics) == 0 {
			fmt.Println(s.Dim.Render("  (none buffered)"))
			return nil
		}
		for _, m := range body.Metrics {
			fmt.Println("  " + m)
		}
		return nil
	},
}
