package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"servopio/host/mcu"
	"servopio/host/serial"
	"servopio/standalone"
	"servopio/standalone/config"
)

var (
	device     = flag.String("device", "/dev/ttyACM0", "Serial device path")
	baud       = flag.Int("baud", serial.DefaultBaud, "Baud rate (ignored for USB CDC)")
	configPath = flag.String("config", "", "JSON servo configuration")
	verbose    = flag.Bool("verbose", false, "Enable verbose output")
)

func main() {
	flag.Parse()

	var servos []standalone.ServoSpec
	if *configPath != "" {
		data, err := os.ReadFile(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		cfg, err := config.LoadConfig(data)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %s: %v\n", *configPath, err)
			os.Exit(1)
		}
		servos = cfg.Servos
	}

	mcuConn := mcu.NewMCU()
	mcuConn.OnMessage = func(r *mcu.Response) {
		if r.Name == "shutdown" {
			fmt.Fprintf(os.Stderr, "\nMCU shutdown: %s\n", r.String("reason"))
		}
	}
	if *verbose {
		mcuConn.Logf = func(format string, args ...any) {
			fmt.Printf(format+"\n", args...)
		}
	}

	fmt.Printf("Connecting to MCU on %s...\n", *device)
	cfg := serial.DefaultConfig(*device)
	cfg.Baud = *baud
	if err := mcuConn.ConnectWithConfig(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to connect: %v\n", err)
		os.Exit(1)
	}
	defer mcuConn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	err := mcuConn.RetrieveDictionary(ctx)
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to retrieve dictionary: %v\n", err)
		os.Exit(1)
	}
	if *verbose {
		mcuConn.PrintDictionary(os.Stdout)
	}

	con := &console{mcu: mcuConn, out: os.Stdout, servos: servos, timeout: mcu.DefaultTimeout}
	fmt.Println("Enter commands (type 'help' for available commands, 'quit' to exit):")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		err := con.Execute(scanner.Text())
		if errors.Is(err, errQuit) {
			return
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
	}

	if err := scanner.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "Error reading input: %v\n", err)
		os.Exit(1)
	}
}
