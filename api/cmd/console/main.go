// Command console проводит опрос категории прямо в терминале — удобно проверять данные каталога
// без Telegram.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"music-studio-bot/api/internal/catalog"
	"music-studio-bot/api/internal/config"
	"music-studio-bot/api/internal/expert"
	"music-studio-bot/api/internal/locale"
	"music-studio-bot/api/internal/logging"
)

func main() {
	cmd := newRootCommand(os.Stdin, os.Stdout)
	if err := cmd.Execute(); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

var errStopped = errors.New("quiz stopped")

func newRootCommand(in io.Reader, out io.Writer) *cobra.Command {
	var (
		dir     string
		lang    string
		verbose bool
	)
	cmd := &cobra.Command{
		Use:           "console [category]",
		Short:         "Run an equipment quiz in the terminal",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if !verbose {
				cfg.Log.Level = "warn"
			}
			cfg.Log.Format = "console"
			logging.Init(cfg.Log)

			if dir == "" {
				dir = cfg.Catalog.Dir
			}
			tag, ok := locale.ParseTag(lang)
			if !ok {
				return fmt.Errorf("unknown language %q", lang)
			}
			loader := catalog.NewLoader(dir)
			if len(args) == 0 {
				listCategories(out, loader, locale.Get(tag))
				return nil
			}
			err = runQuiz(loader, args[0], cfg.Expert, locale.Get(tag), in, out)
			if errors.Is(err, errStopped) {
				fmt.Fprintln(out, locale.Get(tag).Done)
				return nil
			}
			return err
		},
	}
	cmd.Flags().StringVar(&dir, "catalog-dir", "", "Directory with <category>.yaml files (default: embedded data)")
	cmd.Flags().StringVarP(&lang, "lang", "l", string(locale.Default), "Navigation language: UA or US")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Log belief updates")
	return cmd
}

func listCategories(out io.Writer, loader *catalog.Loader, l *locale.Locale) {
	for _, key := range catalog.Categories {
		status := "ok"
		if _, err := loader.LoadCategory(key); err != nil {
			status = "unavailable"
		}
		fmt.Fprintf(out, "%-16s %-20s %s\n", key, l.Categories[key], status)
	}
}

// runQuiz задаёт вопросы по порядку; ответ — номер 1..5 или подпись кнопки, /stop прерывает.
func runQuiz(loader *catalog.Loader, category string, rates expert.Rates, l *locale.Locale, in io.Reader, out io.Writer) error {
	key := category
	if k, ok := l.CategoryKey(category); ok {
		key = k
	}
	m, err := loader.NewModel(key, rates)
	if err != nil {
		return err
	}

	sc := bufio.NewScanner(in)
	for step := 0; step < m.NumQuestions(); step++ {
		q, _ := m.Question(step)
		answer, err := ask(sc, out, l, step, m.NumQuestions(), q)
		if err != nil {
			return err
		}
		if err := m.HandleAnswer(step, answer); err != nil {
			return err
		}
		printBeliefs(out, m.Candidates())
	}

	res := m.Result()
	fmt.Fprintf(out, "\n%s %s %s\n%s\n", plain(l.ResultTitle), res.Producer, res.Model, res.Description)
	return nil
}

func ask(sc *bufio.Scanner, out io.Writer, l *locale.Locale, step, total int, question string) (expert.Answer, error) {
	for {
		fmt.Fprintf(out, "\n%s(%d/%d) %s\n", l.QuestionPrefix, step+1, total, question)
		for i, label := range l.AnswerButtons() {
			fmt.Fprintf(out, "  %d) %s\n", i+1, label)
		}
		fmt.Fprint(out, "> ")
		if !sc.Scan() {
			if err := sc.Err(); err != nil {
				return 0, err
			}
			return 0, io.ErrUnexpectedEOF
		}
		if a, ok := parseAnswer(l, sc.Text()); ok {
			return a, nil
		}
		if strings.TrimSpace(sc.Text()) == "/stop" {
			return 0, errStopped
		}
	}
}

func parseAnswer(l *locale.Locale, text string) (expert.Answer, bool) {
	text = strings.TrimSpace(text)
	if n, err := strconv.Atoi(text); err == nil && n >= 1 && n <= len(expert.Answers) {
		return expert.Answers[n-1], true
	}
	return l.ParseAnswer(text)
}

func printBeliefs(out io.Writer, cs []expert.Candidate) {
	for _, c := range cs {
		fmt.Fprintf(out, "    %-32s %s\n", c.Producer+" "+c.Model, c.Belief.StringFixed(4))
	}
}

func plain(s string) string { return strings.ReplaceAll(s, "*", "") }
