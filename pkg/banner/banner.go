// Package banner prints the interactive startup header.
package banner

import "fmt"

const banner = `
 ██████╗██╗  ██╗ █████╗ ████████╗███████╗██╗   ██╗███╗   ██╗ ██████╗
██╔════╝██║  ██║██╔══██╗╚══██╔══╝██╔════╝╚██╗ ██╔╝████╗  ██║██╔════╝
██║     ███████║███████║   ██║   ███████╗ ╚████╔╝ ██╔██╗ ██║██║
██║     ██╔══██║██╔══██║   ██║   ╚════██║  ╚██╔╝  ██║╚██╗██║██║
╚██████╗██║  ██║██║  ██║   ██║   ███████║   ██║   ██║ ╚████║╚██████╗
 ╚═════╝╚═╝  ╚═╝╚═╝  ╚═╝   ╚═╝   ╚══════╝   ╚═╝   ╚═╝  ╚═══╝ ╚═════╝
`

// Print writes the banner and the effective runtime settings to stdout.
func Print(dataDir, remoteURL, realtimeURL, version string) {
	fmt.Print(banner)
	fmt.Println("== Config =====================================================")
	fmt.Printf("Data dir: %s\n", dataDir)
	fmt.Printf("Remote:   %s\n", remoteURL)
	fmt.Printf("Realtime: %s\n", realtimeURL)
	if version != "" {
		fmt.Printf("Version:  %s\n", version)
	}
	fmt.Println("\n== Commands ===================================================")
	fmt.Println("<text>        send a text message")
	fmt.Println("/img <path>   send a file as an attachment")
	fmt.Println("/del <id>     delete a message")
	fmt.Println("/flush        clear all messages")
	fmt.Println("/quit         exit")
	fmt.Println()
}
