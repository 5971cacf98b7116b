package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/BurntSushi/toml"
	"github.com/urfave/cli/v2"

	"github.com/k-negishi/calendar-event-sync/internal/app"
	"github.com/k-negishi/calendar-event-sync/internal/config"
	"github.com/k-negishi/calendar-event-sync/internal/logging"
	"github.com/k-negishi/calendar-event-sync/internal/usecase"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		logging.Error().Err(err).Msg("コマンドの実行に失敗しました")
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "calsync",
		Usage: "タグ付きのGoogle Calendarイベントを別のカレンダーへ同期する",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "log-format", Value: "console", Usage: "ログ形式 (console または json)"},
		},
		Commands: []*cli.Command{
			syncCommand(),
			calendarsCommand(),
			configCommand(),
			selftestCommand(),
		},
	}
}

// loadConfig 設定を読み込み、ロガーを初期化
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.Context)
	if err != nil {
		return nil, err
	}
	logging.Init(logging.Config{Level: cfg.LogLevel, Format: c.String("log-format")})
	return cfg, nil
}

func syncCommand() *cli.Command {
	return &cli.Command{
		Name:  "sync",
		Usage: "同期を1回実行する（--event-id を省略すると全件走査）",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "event-id", Usage: "同期するイベントのID（または iCalUID）"},
			&cli.StringFlag{Name: "calendar-id", Usage: "同期元カレンダーID（省略時は設定値）"},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			a, err := app.New(c.Context, cfg)
			if err != nil {
				return err
			}

			summary, err := a.UseCase.Execute(c.Context, usecase.Trigger{
				CalendarID: c.String("calendar-id"),
				EventID:    c.String("event-id"),
			})
			fmt.Fprintf(c.App.Writer, "run=%s mode=%s checked=%d tagged=%d created=%d updated=%d skipped=%d errored=%d degraded=%t\n",
				summary.RunID, summary.Mode, summary.Checked, summary.Tagged,
				summary.Created, summary.Updated, summary.Skipped, summary.Errored, summary.Degraded)
			return err
		},
	}
}

func calendarsCommand() *cli.Command {
	return &cli.Command{
		Name:  "calendars",
		Usage: "認証情報でアクセスできるカレンダーを一覧表示する",
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			a, err := app.New(c.Context, cfg)
			if err != nil {
				return err
			}

			calendars, err := a.Source.ListCalendars(c.Context, cfg.SourceCalendarID, cfg.TargetCalendarID)
			if err != nil {
				return err
			}

			fmt.Fprintf(c.App.Writer, "サービスアカウント: %s\n", a.ServiceAccount)
			w := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tTIMEZONE\tACCESS\tROLE")
			for _, cal := range calendars {
				role := ""
				switch cal.ID {
				case cfg.SourceCalendarID:
					role = "同期元"
				case cfg.TargetCalendarID:
					role = "同期先"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", cal.ID, cal.Summary, cal.TimeZone, cal.AccessRole, role)
			}
			return w.Flush()
		},
	}
}

func configCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "有効な設定を表示する（機密情報は伏せる）",
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			masked := cfg.Masked()
			if err := toml.NewEncoder(c.App.Writer).Encode(masked); err != nil {
				return fmt.Errorf("設定の出力に失敗しました: %w", err)
			}
			fmt.Fprintf(c.App.Writer, "# google_credentials = %s\n", masked.GoogleCredentials)
			fmt.Fprintf(c.App.Writer, "# line_channel_access_token = %s\n", masked.LineChannelAccessToken)
			fmt.Fprintf(c.App.Writer, "# caldav_password = %s\n", masked.CalDAVPassword)
			return nil
		},
	}
}

func selftestCommand() *cli.Command {
	return &cli.Command{
		Name:  "selftest",
		Usage: "同期元にテストイベントを作成して同期を確認し、作成したイベントを削除する",
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			a, err := app.New(c.Context, cfg)
			if err != nil {
				return err
			}

			result, err := a.SelfTest(c.Context)
			if err != nil {
				return fmt.Errorf("動作確認に失敗しました: %w", err)
			}
			fmt.Fprintf(c.App.Writer, "動作確認に成功しました: source=%s mirror=%s run=%s\n",
				result.SourceEventID, result.MirrorID, result.Summary.RunID)
			return nil
		},
	}
}
